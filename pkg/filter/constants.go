package filter

// DefaultMaxSecurity is the raw ESI security status at which highsec starts.
const DefaultMaxSecurity = 0.5

// Rule names, used as metric labels.
const (
	RuleSecurity     = "security"
	RuleOrganization = "organization"
	RuleCategory     = "category"
)

// Drop reasons
const (
	ReasonSecurity            = "kill happened in high security space"
	ReasonVictimCorporation   = "victim corporation filtered"
	ReasonAttackerCorporation = "attacker corporation filtered"
	ReasonShipType            = "ship type filtered"
)
