// Package agents holds the agent catalog, the declarative tool
// confirmation policy, and the model providers that produce streamed
// agent output.
package agents

import "strings"

// AgentConfig describes one agent in the catalog.
type AgentConfig struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Model    string   `json:"model"`
	Prompt   string   `json:"prompt"`
	Keywords []string `json:"keywords,omitempty"`
	Tools    []string `json:"tools,omitempty"`
}

// CoordinatorID is the agent that supervises delegation.
const CoordinatorID = "coordinator"

// Catalog is a read-only agent registry. The coordinator routes to
// specialists by matching their keywords against the input.
type Catalog struct {
	agents map[string]AgentConfig
	order  []string
}

// NewCatalog returns the seeded default catalog.
func NewCatalog() *Catalog {
	c := &Catalog{agents: make(map[string]AgentConfig)}
	for _, a := range []AgentConfig{
		{
			ID:     CoordinatorID,
			Name:   "Coordinator",
			Model:  "gpt-4o-mini",
			Prompt: "You supervise a team of specialist agents. Answer directly when you can; otherwise delegate to the best-suited specialist.",
		},
		{
			ID:       "scheduler",
			Name:     "Scheduler",
			Model:    "gpt-4o-mini",
			Prompt:   "You manage the user's calendar: create, list, and cancel events.",
			Keywords: []string{"schedule", "calendar", "meeting", "appointment", "remind"},
			Tools:    []string{"createCalendarEvent", "listCalendarEvents", "deleteCalendarEvent"},
		},
		{
			ID:       "correspondent",
			Name:     "Correspondent",
			Model:    "gpt-4o-mini",
			Prompt:   "You handle the user's email: read the inbox, draft replies, send messages.",
			Keywords: []string{"email", "mail", "inbox", "reply"},
			Tools:    []string{"sendEmail", "fetchInbox", "draftReply"},
		},
		{
			ID:       "researcher",
			Name:     "Researcher",
			Model:    "gpt-4o-mini",
			Prompt:   "You research questions on the web and summarize findings with sources.",
			Keywords: []string{"research", "search", "find out", "look up", "summarize"},
			Tools:    []string{"searchWeb", "fetchPage"},
		},
		{
			ID:       "archivist",
			Name:     "Archivist",
			Model:    "gpt-4o-mini",
			Prompt:   "You manage the user's documents and notes: save, retrieve, organize.",
			Keywords: []string{"file", "document", "note", "archive", "save"},
			Tools:    []string{"writeFile", "readFile", "deleteFile"},
		},
	} {
		c.agents[a.ID] = a
		c.order = append(c.order, a.ID)
	}
	return c
}

// Get looks up an agent by id.
func (c *Catalog) Get(id string) (AgentConfig, bool) {
	a, ok := c.agents[id]
	return a, ok
}

// Coordinator returns the supervising agent.
func (c *Catalog) Coordinator() AgentConfig {
	return c.agents[CoordinatorID]
}

// All returns every agent in seed order.
func (c *Catalog) All() []AgentConfig {
	out := make([]AgentConfig, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.agents[id])
	}
	return out
}

// RouteTarget picks the specialist whose keywords match the input, or
// reports false when the coordinator should answer directly. The first
// specialist in seed order wins when several match.
func (c *Catalog) RouteTarget(input string) (AgentConfig, bool) {
	lowered := strings.ToLower(input)
	for _, id := range c.order {
		a := c.agents[id]
		for _, kw := range a.Keywords {
			if strings.Contains(lowered, kw) {
				return a, true
			}
		}
	}
	return AgentConfig{}, false
}
