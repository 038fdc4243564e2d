package types

// CommandType names a control command understood by node agents.
type CommandType string

const (
	CommandRestart         CommandType = "restart"
	CommandNodeConfig      CommandType = "nodeConfig"
	CommandInstallPlugin   CommandType = "install_plugin"
	CommandUninstallPlugin CommandType = "uninstall_plugin"
	CommandReinstallPlugin CommandType = "re_install_plugin"
	CommandRecheckPlugin   CommandType = "re_check_plugin"
	CommandDeletePlugin    CommandType = "delete_plugin"
	CommandProject         CommandType = "project"
	CommandSensitive       CommandType = "sensitive"
	CommandFinger          CommandType = "finger"
	CommandPoc             CommandType = "poc"
	CommandPort            CommandType = "port"
	CommandDictionary      CommandType = "dictionary"
	CommandSubfinder       CommandType = "subfinder"
	CommandRad             CommandType = "rad"
	CommandNotification    CommandType = "notification"
	CommandSystem          CommandType = "system"
	CommandStopTask        CommandType = "stop_task"
	CommandDeleteTask      CommandType = "delete_task"
)

// BroadcastTarget addresses every registered node.
const BroadcastTarget = "all"

// Message is the wire format pushed onto refresh_config:<name>.
type Message struct {
	Name    string      `json:"name"`
	Type    CommandType `json:"type"`
	Content string      `json:"content,omitempty"`
}
