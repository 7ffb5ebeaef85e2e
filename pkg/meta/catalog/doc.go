// Package catalog is the meta service's object catalog: databases,
// schemas, tables (including materialized views and sources), sinks,
// subscriptions, and the fragment graph each streaming job compiles down
// to. Like pkg/meta/cluster, it is a bucket-keyed
// domain layer over pkg/metastore.
package catalog
