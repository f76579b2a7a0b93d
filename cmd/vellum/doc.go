// Command vellum is the operator CLI. It inspects and manages the on-disk
// state shared with the vellumd daemon: configuration, the write-behind
// terminology cache snapshot, and the bulk-load sink.
package main
