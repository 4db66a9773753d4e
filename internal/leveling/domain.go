package leveling

import (
	"fmt"
	"strings"
)

type Domain string

const (
	DomainInvestmentScreening Domain = "INVESTMENT_SCREENING"
	DomainMentoring           Domain = "MENTORING"
	DomainGeneral             Domain = "GENERAL"
)

var meetingDomains = map[string]Domain{
	"INVESTMENT_1ST": DomainInvestmentScreening,
	"INVESTMENT_2ND": DomainInvestmentScreening,
	"IR":             DomainInvestmentScreening,
	"DUE_DILIGENCE":  DomainInvestmentScreening,
	"MENTORING":      DomainMentoring,
	"GENERAL":        DomainGeneral,
}

// DomainFor maps a meeting type to its domain. Unmapped types are GENERAL.
func DomainFor(meetingType string) Domain {
	if d, ok := meetingDomains[strings.ToUpper(strings.TrimSpace(meetingType))]; ok {
		return d
	}
	return DomainGeneral
}

func ParseDomain(s string) (Domain, error) {
	d := Domain(strings.ToUpper(strings.TrimSpace(s)))
	switch d {
	case DomainInvestmentScreening, DomainMentoring, DomainGeneral:
		return d, nil
	}
	return "", fmt.Errorf("unknown domain %q", s)
}

type Persona string

const (
	PersonaAnalyst   Persona = "ANALYST"
	PersonaBuddy     Persona = "BUDDY"
	PersonaGuardian  Persona = "GUARDIAN"
	PersonaVisionary Persona = "VISIONARY"

	DefaultPersona = PersonaAnalyst
)

func ParsePersona(s string) (Persona, error) {
	p := Persona(strings.ToUpper(strings.TrimSpace(s)))
	switch p {
	case PersonaAnalyst, PersonaBuddy, PersonaGuardian, PersonaVisionary:
		return p, nil
	}
	return "", fmt.Errorf("unknown persona %q", s)
}
