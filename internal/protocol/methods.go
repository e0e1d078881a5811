package protocol

// Fixed, case-sensitive method names recognized by the codec. The server
// dispatches four of them itself (agent.authenticate, agent.register,
// heartbeat, getStatus); task.execute and broadcast are what the server
// sends to agents. Everything else that reaches an authenticated
// connection's reader, task.execute and broadcast included, is forwarded to
// the user-supplied handler, as are the remaining names in this list, which
// exist for compatibility with the broader wire contract but carry no
// built-in dispatch behavior.
const (
	MethodAgentAuthenticate = "agent.authenticate"
	MethodAgentRegister     = "agent.register"
	MethodHeartbeat         = "heartbeat"
	MethodGetStatus         = "getStatus"
	MethodTaskExecute       = "task.execute"
	MethodBroadcast         = "broadcast"

	MethodSendMessage   = "sendMessage"
	MethodExecuteTask   = "executeTask"
	MethodCancelTask    = "cancelTask"
	MethodTaskAssign    = "taskAssign"
	MethodTaskResult    = "taskResult"
	MethodTaskProgress  = "taskProgress"
	MethodQueryAgent    = "queryAgent"
	MethodRegisterAgent = "registerAgent"
)
