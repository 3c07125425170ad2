package notify

import (
	"fmt"
	"sort"
	"strings"

	"github.com/garyjia/sms-orchestrator/internal/domain/entity"
)

// field is one labelled line of an alert
type field struct {
	Label string
	Value string
}

// fields lists the populated payload attributes in display order
func fields(p *entity.NotificationPayload) []field {
	var out []field
	add := func(label, value string) {
		if value != "" {
			out = append(out, field{Label: label, Value: value})
		}
	}

	add("Tenant", p.TenantID)
	add("Phone", p.PhoneNumber)
	if p.ConfidenceScore != nil {
		add("Confidence", p.ConfidenceScore.StringFixed(2))
	}
	add("Queue ID", p.QueueID)
	add("Workflow ID", p.WorkflowID)
	add("Escalation ID", p.EscalationID)
	add("Reason", p.EscalationReason)
	add("Escalated by", p.EscalatedBy)
	if p.EscalatedAt != nil {
		add("Escalated at", p.EscalatedAt.UTC().Format("2006-01-02 15:04 MST"))
	}
	if p.HoursRemaining != nil {
		add("Hours remaining", fmt.Sprintf("%.1f", *p.HoursRemaining))
	}
	add("Tenant message", p.TenantMessage)
	add("Proposed reply", p.ResponseText)
	return out
}

// actionOrder keeps buttons stable across renders
var actionOrder = map[string]int{"approve": 0, "modify": 1, "escalate": 2}

type actionLink struct {
	Action string
	URL    string
}

func actionLinks(p *entity.NotificationPayload) []actionLink {
	links := make([]actionLink, 0, len(p.ActionLinks))
	for action, url := range p.ActionLinks {
		links = append(links, actionLink{Action: action, URL: url})
	}
	sort.Slice(links, func(i, j int) bool {
		oi, iok := actionOrder[links[i].Action]
		oj, jok := actionOrder[links[j].Action]
		if iok && jok {
			return oi < oj
		}
		if iok != jok {
			return iok
		}
		return links[i].Action < links[j].Action
	})
	return links
}

// markdown renders the payload body as "**Label:** value" lines
func markdown(p *entity.NotificationPayload, bold string) string {
	var b strings.Builder
	for i, f := range fields(p) {
		if i > 0 {
			b.WriteByte('\n')
		}
		fmt.Fprintf(&b, "%s%s:%s %s", bold, f.Label, bold, f.Value)
	}
	return b.String()
}

func title(action string) string {
	if action == "" {
		return action
	}
	return strings.ToUpper(action[:1]) + action[1:]
}
