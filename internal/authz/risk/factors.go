// Copyright (c) 2026 Meridian. All rights reserved.
// Author: platform@meridianhq.io

package risk

import (
	"net/netip"
	"time"
)

// # Factor Scoring
//
// Each factor maps its inputs onto [0, 100]. The engine combines them with
// the weights in engine.go. Pure functions live here so they are testable
// without Redis or Postgres.

// Factor names, used as keys in assessments and audit risk indicators.
const (
	FactorIPReputation       = "ipReputation"
	FactorGeolocationAnomaly = "geolocationAnomaly"
	FactorTimeOfDay          = "timeOfDay"
	FactorUserHistory        = "userHistory"
	FactorDeviceFingerprint  = "deviceFingerprint"
	FactorSessionAnomaly     = "sessionAnomaly"
	FactorFailedAttempts     = "failedAttempts"
	FactorAccountAge         = "accountAge"
	FactorPasswordAge        = "passwordAge"
)

// knownVPNExitRanges lists published VPN/Tor exit ranges. Curated by the
// security team; refreshed with the quarterly threat-intel review.
var knownVPNExitRanges = mustParsePrefixes(
	"185.220.100.0/22",
	"185.220.101.0/24",
	"199.87.154.0/24",
	"204.11.50.0/24",
	"23.129.64.0/24",
	"104.244.72.0/21",
)

// suspiciousRanges lists ranges with elevated abuse reports but no hard
// VPN/Tor attribution.
var suspiciousRanges = mustParsePrefixes(
	"5.188.0.0/16",
	"45.155.204.0/22",
	"89.248.160.0/21",
	"141.98.80.0/22",
)

// highRiskCountries is the compliance-mandated elevated-risk country set.
var highRiskCountries = map[string]bool{
	"KP": true,
	"IR": true,
	"SY": true,
	"CU": true,
	"SD": true,
}

func mustParsePrefixes(cidrs ...string) []netip.Prefix {
	prefixes := make([]netip.Prefix, 0, len(cidrs))
	for _, cidr := range cidrs {
		prefixes = append(prefixes, netip.MustParsePrefix(cidr))
	}
	return prefixes
}

// scoreIPReputation grades the source address. Private and loopback space is
// benign, known anonymization exits are near-certain risk, unparsable input
// scores as unknown rather than clean.
func scoreIPReputation(ipAddress string) int {
	if ipAddress == "" {
		return 50
	}

	address, err := netip.ParseAddr(ipAddress)
	if err != nil {
		return 50
	}

	if address.IsPrivate() || address.IsLoopback() || address.IsLinkLocalUnicast() {
		return 10
	}

	for _, prefix := range knownVPNExitRanges {
		if prefix.Contains(address) {
			return 95
		}
	}
	for _, prefix := range suspiciousRanges {
		if prefix.Contains(address) {
			return 60
		}
	}

	return 20
}

// scoreGeolocation grades the login country against the user's history.
func scoreGeolocation(country string, seenBefore, hasHistory bool) int {
	if country == "" {
		return 30
	}
	if highRiskCountries[country] {
		return 90
	}
	if hasHistory && !seenBefore {
		return 65
	}
	return 10
}

// scoreTimeOfDay grades the local hour of the attempt. The 03:00-05:00
// window is where almost no legitimate portal traffic happens.
func scoreTimeOfDay(at time.Time) int {
	hour := at.Hour()
	switch {
	case hour >= 3 && hour < 5:
		return 80
	case hour >= 18 || hour < 3:
		return 50
	default:
		return 10
	}
}

// scoreUserHistory combines recent failed logins with recent severe audit
// events: ten points per failed login (capped at five), fifteen per severe
// event.
func scoreUserHistory(recentFailedLogins, recentSevereEvents int) int {
	if recentFailedLogins > 5 {
		recentFailedLogins = 5
	}
	score := recentFailedLogins*10 + recentSevereEvents*15
	return clamp(score)
}

// scoreDeviceFingerprint grades the presenting device against the user's
// known set.
func scoreDeviceFingerprint(fingerprint string, known, hasDevices bool) int {
	switch {
	case fingerprint == "":
		return 50
	case known:
		return 10
	case !hasDevices:
		// First device ever recorded for this user.
		return 40
	default:
		return 70
	}
}

// SessionContext captures the stored session attributes the anomaly factor
// compares the current request against. Zero value means no session yet.
type SessionContext struct {
	IPHash    string
	UAHash    string
	CreatedAt time.Time
}

// scoreSessionAnomaly accumulates drift between the request and the session
// it claims to belong to.
func scoreSessionAnomaly(session SessionContext, currentIPHash, currentUAHash string, now time.Time) int {
	if session.CreatedAt.IsZero() {
		return 0
	}

	score := 0
	if session.IPHash != "" && currentIPHash != session.IPHash {
		score += 40
	}
	if session.UAHash != "" && currentUAHash != session.UAHash {
		score += 30
	}
	if now.Sub(session.CreatedAt) > 30*24*time.Hour {
		score += 20
	}

	return clamp(score)
}

// scoreFailedAttempts maps the one-hour failure counter onto the scale
// anchored at 1→50, 3→80, 5→100.
func scoreFailedAttempts(count int) int {
	switch {
	case count <= 0:
		return 0
	case count == 1:
		return 50
	case count == 2:
		return 65
	case count == 3:
		return 80
	case count == 4:
		return 90
	default:
		return 100
	}
}

// scoreAccountAge grades how new the account is. Fresh accounts are the
// favorite vehicle for abuse.
func scoreAccountAge(createdAt time.Time, now time.Time) int {
	age := now.Sub(createdAt)
	switch {
	case age < 24*time.Hour:
		return 80
	case age < 7*24*time.Hour:
		return 60
	case age < 30*24*time.Hour:
		return 40
	case age < 90*24*time.Hour:
		return 20
	default:
		return 5
	}
}

// scorePasswordAge grades staleness: old passwords score high, a password
// changed moments ago is near-zero risk on this axis.
func scorePasswordAge(changedAt time.Time, now time.Time) int {
	age := now.Sub(changedAt)
	switch {
	case age < 24*time.Hour:
		return 5
	case age < 7*24*time.Hour:
		return 10
	case age < 30*24*time.Hour:
		return 20
	case age < 90*24*time.Hour:
		return 40
	default:
		return 70
	}
}

func clamp(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
