package mapreduce

import "github.com/ringmr/ringmr/internal/rpcfacade"

func init() {
	rpcfacade.RegisterWireType(startupArgs{})
	rpcfacade.RegisterWireType(startupReply{})
	rpcfacade.RegisterWireType(userNotifyArgs{})
	rpcfacade.RegisterWireType(map[string]interface{}(nil))
}

// Method name constants for RequestHandler's remotely callable methods
//.
const (
	MethodStartup       = "RequestHandler.Startup"
	MethodNotifyResults = "RequestHandler.NotifyResults"
	MethodUserNotify    = "User.NotifyResults"
)

type startupArgs struct {
	UserAddress    rpcfacade.Address
	InputData      []interface{}
	MapFuncName    string
	ReduceFuncName string
}

type startupReply struct {
	OK bool
}

type userNotifyArgs struct {
	Results map[string]interface{}
}

// RequestHandlerMethods builds the dispatch table backing a
// RequestHandler's Address.
func RequestHandlerMethods(h *RequestHandler) rpcfacade.MethodTable {
	return rpcfacade.MethodTable{
		MethodStartup: func(args interface{}) (interface{}, error) {
			a := args.(startupArgs)
			ok := h.Startup(a.UserAddress, a.InputData, a.MapFuncName, a.ReduceFuncName)
			return startupReply{OK: ok}, nil
		},
		MethodNotifyResults: func(args interface{}) (interface{}, error) {
			h.NotifyResults()
			return nil, nil
		},
	}
}

// RequestHandlerOnewayMethods: notify_results is fire-and-forget from the
// Master's side; startup is request/reply so the
// client learns whether staging exhausted its retries.
func RequestHandlerOnewayMethods() rpcfacade.OnewayMethods {
	return rpcfacade.OnewayMethods{
		MethodNotifyResults: true,
	}
}

// RequestHandlerClient is the typed handle both the client (startup) and
// the Master (notify_results) use to reach a RequestHandler.
type RequestHandlerClient struct {
	c rpcfacade.Client
}

func NewRequestHandlerClient(c rpcfacade.Client) *RequestHandlerClient {
	return &RequestHandlerClient{c: c}
}

// Startup calls RequestHandler.startup and reports whether staging
// succeeded.
func (r *RequestHandlerClient) Startup(userAddr rpcfacade.Address, inputData []interface{}, mapFuncName, reduceFuncName string) (bool, error) {
	var reply startupReply
	args := startupArgs{UserAddress: userAddr, InputData: inputData, MapFuncName: mapFuncName, ReduceFuncName: reduceFuncName}
	if err := r.c.Call(MethodStartup, args, &reply); err != nil {
		return false, err
	}
	return reply.OK, nil
}

// NotifyResults triggers the RequestHandler to read the final results and
// relay them to its remembered user address.
func (r *RequestHandlerClient) NotifyResults() {
	r.c.Go(MethodNotifyResults, nil)
}

// UserClient is the handle a RequestHandler uses to deliver final results
// to the client that issued the job.
type UserClient struct {
	c rpcfacade.Client
}

func NewUserClient(c rpcfacade.Client) *UserClient {
	return &UserClient{c: c}
}

func (u *UserClient) NotifyResults(results map[string]interface{}) {
	u.c.Go(MethodUserNotify, userNotifyArgs{Results: results})
}
