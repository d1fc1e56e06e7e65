package xbrl

import (
	"encoding/xml"
	"fmt"
	"io"
	"strings"
)

// Presentation is what the pipeline needs from a presentation linkbase.
type Presentation struct {
	// Roles maps a concept to the role suffixes of every presentation link it appears in.
	Roles map[string][]string `json:"roles"`
	// Negated holds concepts presented with a negatedLabel.
	Negated map[string]bool `json:"negated"`
}

// EmptyPresentation is used when a filing has no usable linkbase.
func EmptyPresentation() Presentation {
	return Presentation{Roles: map[string][]string{}, Negated: map[string]bool{}}
}

func (p Presentation) RolesOf(concept string) []string {
	return p.Roles[concept]
}

func (p Presentation) IsNegated(concept string) bool {
	return p.Negated[concept]
}

type linkbase struct {
	Links []presentationLink `xml:"presentationLink"`
}

type presentationLink struct {
	Role string `xml:"http://www.w3.org/1999/xlink role,attr"`
	Locs []loc  `xml:"loc"`
	Arcs []arc  `xml:"presentationArc"`
}

type loc struct {
	Label string `xml:"http://www.w3.org/1999/xlink label,attr"`
	Href  string `xml:"http://www.w3.org/1999/xlink href,attr"`
}

type arc struct {
	To             string `xml:"http://www.w3.org/1999/xlink to,attr"`
	PreferredLabel string `xml:"preferredLabel,attr"`
}

// ParsePresentation reads a *_pre.xml linkbase.
func ParsePresentation(r io.Reader) (Presentation, error) {
	var lb linkbase
	if err := xml.NewDecoder(r).Decode(&lb); err != nil {
		return EmptyPresentation(), fmt.Errorf("failed to decode presentation linkbase: %w", err)
	}

	p := EmptyPresentation()
	for _, link := range lb.Links {
		role := roleSuffix(link.Role)

		concepts := make(map[string]string, len(link.Locs))
		for _, l := range link.Locs {
			if c := conceptFromHref(l.Href); c != "" && l.Label != "" {
				concepts[l.Label] = c
			}
		}

		for _, a := range link.Arcs {
			concept, ok := concepts[a.To]
			if !ok {
				continue
			}
			if role != "" && !contains(p.Roles[concept], role) {
				p.Roles[concept] = append(p.Roles[concept], role)
			}
			if strings.Contains(a.PreferredLabel, "negatedLabel") {
				p.Negated[concept] = true
			}
		}
	}
	return p, nil
}

// roleSuffix returns the part of a role URI after "/role/".
func roleSuffix(uri string) string {
	i := strings.LastIndex(uri, "/role/")
	if i < 0 {
		return ""
	}
	return uri[i+len("/role/"):]
}

// conceptFromHref turns "aapl-20240928.xsd#us-gaap_Revenues" into "us-gaap:Revenues".
func conceptFromHref(href string) string {
	i := strings.LastIndex(href, "#")
	if i < 0 || i == len(href)-1 {
		return ""
	}
	return strings.Replace(href[i+1:], "_", ":", 1)
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
