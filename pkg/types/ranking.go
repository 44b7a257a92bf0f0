// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import (
	"strconv"
	"strings"
)

// Ranking holds the journal metrics returned by the ranking provider for one
// venue. Many records share a Ranking; it is looked up by normalized venue.
type Ranking struct {
	// Venue is the venue name as sent to the provider.
	Venue string `json:"venue" yaml:"venue"`

	// ImpactFactor and JCI are the raw provider values. They are usually
	// numeric but may be absent or non-numeric ("-").
	ImpactFactor string `json:"impact_factor,omitempty" yaml:"impact_factor,omitempty"`
	JCI          string `json:"jci,omitempty" yaml:"jci,omitempty"`

	// SCIPartition is "Q1".."Q4"; empty means unranked.
	SCIPartition string `json:"sci_partition,omitempty" yaml:"sci_partition,omitempty"`

	// Chinese Academy of Sciences tier labels (e.g. "中科院1区 Top").
	SCIUpTop string `json:"sci_up_top,omitempty" yaml:"sci_up_top,omitempty"`
	SCIBase  string `json:"sci_base,omitempty" yaml:"sci_base,omitempty"`
	SCIUp    string `json:"sci_up,omitempty" yaml:"sci_up,omitempty"`
}

// ImpactFactorValue parses ImpactFactor. ok is false when it is absent or
// not a number.
func (r Ranking) ImpactFactorValue() (float64, bool) {
	return parseMetric(r.ImpactFactor)
}

// JCIValue parses JCI. ok is false when it is absent or not a number.
func (r Ranking) JCIValue() (float64, bool) {
	return parseMetric(r.JCI)
}

// IsEmpty reports whether the provider returned no usable metric.
func (r Ranking) IsEmpty() bool {
	return r.ImpactFactor == "" && r.JCI == "" && r.SCIPartition == "" &&
		r.SCIUpTop == "" && r.SCIBase == "" && r.SCIUp == ""
}

func parseMetric(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
