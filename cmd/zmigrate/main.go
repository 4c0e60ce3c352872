// Command zmigrate migrates VM instances between compute nodes: snapshot,
// incremental dataset replication, and a finalize/rollback commit protocol
// backed by a durable on-disk migration record.
package main

import "log"

func init() {
	log.SetFlags(log.Lshortfile | log.Ldate | log.Ltime | log.Lmicroseconds)
}

func main() {
	Execute()
}
