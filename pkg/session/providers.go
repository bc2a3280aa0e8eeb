package session

// ProviderRule is one entry of the fixed routing table: a provider and the
// keywords that count as a hit against lowercased input text. Table order
// is the tie-break order for exact score ties (spec §4.2).
type ProviderRule struct {
	ProviderID string
	Keywords   []string
}

// DefaultProviderRules is the built-in keyword table. NewEngine always
// routes with this table; UNIASSIST_PROVIDER_BASE_URLS only supplies the
// HTTP transports and does not change it. It covers the domains exercised
// by the end-to-end scenarios (plan, work, reminder); the always-present
// built-in fallback is BuiltinFallbackProviderID below.
var DefaultProviderRules = []ProviderRule{
	{
		ProviderID: "plan",
		Keywords:   []string{"plan", "schedule", "计划", "安排", "itinerary", "goal"},
	},
	{
		ProviderID: "work",
		Keywords:   []string{"work", "task", "project", "deadline", "meeting", "工作", "任务"},
	},
	{
		ProviderID: "reminder",
		Keywords:   []string{"remind", "reminder", "alarm", "提醒", "闹钟"},
	},
}

// BuiltinFallbackProviderID is the always-available in-process provider
// dispatched when no candidate clears the routing threshold.
const BuiltinFallbackProviderID = "builtin_chat"
