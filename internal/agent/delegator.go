package agent

import "github.com/roswellcsy/NiBot/internal/tool"

// Delegator adapts Manager to the delegate tool's interface, so the tool
// package stays decoupled from the agent package.
type Delegator struct {
	manager *Manager
}

func NewDelegator(m *Manager) *Delegator {
	return &Delegator{manager: m}
}

func (d *Delegator) Spawn(req tool.DelegateRequest) (string, error) {
	return d.manager.Spawn(SpawnRequest{
		Task:          req.Task,
		Label:         req.Label,
		Profile:       req.Profile,
		Allow:         req.Allow,
		OriginChannel: req.OriginChannel,
		OriginChatID:  req.OriginChatID,
	})
}

func (d *Delegator) Query(id string) (tool.TaskView, bool) {
	info, ok := d.manager.Query(id)
	if !ok {
		return tool.TaskView{}, false
	}
	return taskView(info), true
}

func (d *Delegator) List() []tool.TaskView {
	infos := d.manager.List()
	views := make([]tool.TaskView, len(infos))
	for i, info := range infos {
		views[i] = taskView(info)
	}
	return views
}

func taskView(info TaskInfo) tool.TaskView {
	return tool.TaskView{
		ID:         info.ID,
		Label:      info.Label,
		Status:     string(info.Status),
		Result:     info.Result,
		StartedAt:  info.StartedAt,
		FinishedAt: info.FinishedAt,
	}
}

var _ tool.Delegator = (*Delegator)(nil)
