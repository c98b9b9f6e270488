package mapreduce

import "github.com/ringmr/ringmr/internal/rpcfacade"

func init() {
	rpcfacade.RegisterWireType(mapArgs{})
	rpcfacade.RegisterWireType(reduceArgs{})
}

// Method name constants for the Follower's remotely callable methods
//.
const (
	MethodMap    = "Follower.Map"
	MethodReduce = "Follower.Reduce"
)

type mapArgs struct {
	TaskID   TaskID
	Chunk    []interface{}
	FuncName string
}

type reduceArgs struct {
	TaskID   TaskID
	Values   []interface{}
	FuncName string
}

// FollowerMethods builds the dispatch table backing a Follower's Address.
func FollowerMethods(f *Follower) rpcfacade.MethodTable {
	return rpcfacade.MethodTable{
		MethodMap: func(args interface{}) (interface{}, error) {
			a := args.(mapArgs)
			f.Map(a.TaskID, a.Chunk, a.FuncName)
			return nil, nil
		},
		MethodReduce: func(args interface{}) (interface{}, error) {
			a := args.(reduceArgs)
			f.Reduce(a.TaskID, a.Values, a.FuncName)
			return nil, nil
		},
	}
}

// FollowerOnewayMethods: both map and reduce dispatch are oneway, since
// the master does not wait for a task to finish to get its reply;
// completion arrives later via ReportTask.
func FollowerOnewayMethods() rpcfacade.OnewayMethods {
	return rpcfacade.OnewayMethods{
		MethodMap:    true,
		MethodReduce: true,
	}
}

// FollowerClient is the typed handle a Master uses to assign work.
type FollowerClient struct {
	c rpcfacade.Client
}

func NewFollowerClient(c rpcfacade.Client) *FollowerClient {
	return &FollowerClient{c: c}
}

func (f *FollowerClient) Map(taskID TaskID, chunk interface{}, funcName string) {
	shards, _ := chunk.([]interface{})
	f.c.Go(MethodMap, mapArgs{TaskID: taskID, Chunk: shards, FuncName: funcName})
}

func (f *FollowerClient) Reduce(taskID TaskID, values interface{}, funcName string) {
	vs, _ := values.([]interface{})
	f.c.Go(MethodReduce, reduceArgs{TaskID: taskID, Values: vs, FuncName: funcName})
}
