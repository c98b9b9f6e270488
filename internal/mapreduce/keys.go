// Package mapreduce implements the job-coordination half of the system:
// Master, Follower, and RequestHandler, staged through the DHT and
// elected/bound to NameDir leadership. User map/reduce code cannot travel
// as portable bytecode in Go, so the opaque blob a job carries is modeled
// as a registered function name every follower already knows; see
// DESIGN.md for why no serialization format was attempted instead.
package mapreduce

// Well-known object names registered in NameDir.
const (
	MasterObjectName         = "master"
	FollowerObjectNamePrefix = "follower"
	RequestHandlerObjectName = "rq.handler"
)

// Well-known DHT keys.
const (
	StagedDataKey       = "master/staged/data"
	StagedMapCodeKey    = "master/staged/map-code"
	StagedReduceCodeKey = "master/staged/reduce-code"
	MasterBackupKey     = "master/backup"
	FinalResultsKey     = "map-reduce/final-results"
)
