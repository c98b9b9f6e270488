package mapreduce

import "github.com/ringmr/ringmr/internal/rpcfacade"

func init() {
	rpcfacade.RegisterWireType(subscribeArgs{})
	rpcfacade.RegisterWireType(reportTaskArgs{})
	rpcfacade.RegisterWireType([]KV(nil))
}

// MethodSubscribe etc. name the Master's remotely callable methods
//.
const (
	MethodSubscribe  = "Master.Subscribe"
	MethodReportTask = "Master.ReportTask"
)

type subscribeArgs struct {
	Follower rpcfacade.Address
}

type reportTaskArgs struct {
	Follower rpcfacade.Address
	TaskID   TaskID
	FuncName string
	Result   interface{}
}

// MasterMethods builds the dispatch table backing a Master's Address.
func MasterMethods(m *Master) rpcfacade.MethodTable {
	return rpcfacade.MethodTable{
		MethodSubscribe: func(args interface{}) (interface{}, error) {
			a := args.(subscribeArgs)
			m.Subscribe(a.Follower)
			return nil, nil
		},
		MethodReportTask: func(args interface{}) (interface{}, error) {
			a := args.(reportTaskArgs)
			if err := m.ReportTask(a.Follower, a.TaskID, a.FuncName, a.Result); err == ErrUnknownTaskFunction {
				// Spec §7: an invariant violation here is fatal to the
				// Master, not a recoverable RPC error reported to the
				// follower — let it crash the process so NameDir elects
				// a fresh leader to resume from the last checkpoint.
				panic(err)
			}
			return nil, nil
		},
	}
}

// MasterOnewayMethods: both subscribe and report_task are fire-and-forget,
// since the follower does not block on the Master's reaction.
func MasterOnewayMethods() rpcfacade.OnewayMethods {
	return rpcfacade.OnewayMethods{
		MethodSubscribe:  true,
		MethodReportTask: true,
	}
}

// MasterClient is the typed handle a Follower uses to reach the Master.
type MasterClient struct {
	c rpcfacade.Client
}

func NewMasterClient(c rpcfacade.Client) *MasterClient {
	return &MasterClient{c: c}
}

func (m *MasterClient) Subscribe(follower rpcfacade.Address) {
	m.c.Go(MethodSubscribe, subscribeArgs{Follower: follower})
}

func (m *MasterClient) ReportTask(follower rpcfacade.Address, taskID TaskID, funcName string, result interface{}) {
	m.c.Go(MethodReportTask, reportTaskArgs{Follower: follower, TaskID: taskID, FuncName: funcName, Result: result})
}

// Ping probes whether a master is currently reachable at this client's
// address.
func (m *MasterClient) Ping() (bool, error) {
	return m.c.Ping()
}
