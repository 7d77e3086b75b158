package filter

// Security drops kills at or above the configured security status.
func Security(in Input, c Criteria) Verdict {
	if in.SecurityStatus >= c.MaxSecurity {
		return Verdict{Reason: ReasonSecurity}
	}
	return keep
}

// Organization drops kills where the victim (optionally) or any attacker
// belongs to an excluded corporation. Missing corporation ids never match.
func Organization(in Input, c Criteria) Verdict {
	if len(c.ExcludedCorporations) == 0 || in.Killmail == nil {
		return keep
	}

	if c.CheckVictim && excluded(c.ExcludedCorporations, in.Killmail.Victim.CorporationID) {
		return Verdict{Reason: ReasonVictimCorporation}
	}

	for _, a := range in.Killmail.Attackers {
		if excluded(c.ExcludedCorporations, a.CorporationID) {
			return Verdict{Reason: ReasonAttackerCorporation}
		}
	}
	return keep
}

// Category drops kills of excluded victim ship types.
func Category(in Input, c Criteria) Verdict {
	if in.Killmail == nil {
		return keep
	}
	if _, ok := c.ExcludedShipTypes[in.Killmail.Victim.ShipTypeID]; ok {
		return Verdict{Reason: ReasonShipType}
	}
	return keep
}

func excluded(set map[int32]struct{}, id *int32) bool {
	if id == nil {
		return false
	}
	_, ok := set[*id]
	return ok
}
