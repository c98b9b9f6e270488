package mapreduce

import "github.com/ringmr/ringmr/internal/rpcfacade"

// Concrete types this package stores behind DHT/RPC interface{} fields,
// beyond the primitives chord's service_client.go already registers
// ("" , []byte, map[string]interface{}, []interface{}).
func init() {
	rpcfacade.RegisterWireType(map[TaskID]interface{}(nil))
	rpcfacade.RegisterWireType(Checkpoint{})
}
