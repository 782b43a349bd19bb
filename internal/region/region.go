// Package region maps country scopes onto named regions and accounts for
// every country a rollup could not place.
package region

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

// Definition is one named region and its configured member countries.
type Definition struct {
	Name    string   `yaml:"name"`
	Members []string `yaml:"members"`
}

// definitionsFile is the on-disk shape of a region configuration.
type definitionsFile struct {
	Regions []Definition `yaml:"regions"`
}

// Default returns the continental region split used across the atlas.
func Default() []Definition {
	return []Definition{
		{Name: "North Africa", Members: []string{
			"Morocco", "Algeria", "Tunisia", "Libya", "Egypt", "Mauritius",
		}},
		{Name: "West Africa", Members: []string{
			"Senegal", "Gambia", "Guinea-Bissau", "Guinea", "Sierra Leone",
			"Liberia", "Côte d'Ivoire", "Ghana", "Togo", "Benin", "Nigeria",
			"Niger", "Burkina Faso", "Mali", "Mauritania", "Cabo Verde",
		}},
		{Name: "Central Africa", Members: []string{
			"Chad", "Central African Republic", "Cameroon", "Gabon",
			"Congo", "Democratic Republic of the Congo", "Equatorial Guinea",
			"Sao Tome and Principe", "Burundi",
		}},
		{Name: "East Africa", Members: []string{
			"Ethiopia", "Eritrea", "Djibouti", "Somalia", "Kenya",
			"Uganda", "Tanzania", "Rwanda", "South Sudan", "Sudan",
		}},
		{Name: "Southern Africa", Members: []string{
			"South Africa", "Namibia", "Botswana", "Zimbabwe",
			"Zambia", "Malawi", "Mozambique", "Angola", "Lesotho",
			"Madagascar", "Comoros", "Swaziland", "Seychelles",
		}},
	}
}

// LoadFile reads region definitions from a YAML file.
func LoadFile(path string) ([]Definition, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "region: reading definitions %s", path)
	}
	return Load(raw)
}

// Load parses YAML region definitions.
func Load(raw []byte) ([]Definition, error) {
	var file definitionsFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return nil, eris.Wrap(err, "region: parsing definitions")
	}
	if len(file.Regions) == 0 {
		return nil, eris.New("region: definitions contain no regions")
	}
	return file.Regions, nil
}

// Resolver assigns countries to regions by normalized name, so accent and
// case variants of the same country land in the same region.
type Resolver struct {
	defs     []Definition
	byMember map[string]string
}

// NewResolver validates the definitions and builds the member index.
func NewResolver(defs []Definition) (*Resolver, error) {
	r := &Resolver{
		defs:     defs,
		byMember: make(map[string]string),
	}
	seen := make(map[string]bool)
	for _, def := range defs {
		if def.Name == "" {
			return nil, eris.New("region: definition with empty name")
		}
		if seen[def.Name] {
			return nil, eris.Errorf("region: duplicate region %q", def.Name)
		}
		seen[def.Name] = true
		if len(def.Members) == 0 {
			return nil, eris.Errorf("region: region %q has no members", def.Name)
		}
		for _, m := range def.Members {
			key := Normalize(m)
			if key == "" {
				return nil, eris.Errorf("region: region %q has an empty member name", def.Name)
			}
			if prev, ok := r.byMember[key]; ok && prev != def.Name {
				return nil, eris.Errorf("region: country %q assigned to both %q and %q", m, prev, def.Name)
			}
			r.byMember[key] = def.Name
		}
	}
	return r, nil
}

// Region returns the region a country belongs to, if any.
func (r *Resolver) Region(country string) (string, bool) {
	name, ok := r.byMember[Normalize(country)]
	return name, ok
}

// Regions returns the region names in definition order.
func (r *Resolver) Regions() []string {
	names := make([]string, len(r.defs))
	for i, def := range r.defs {
		names[i] = def.Name
	}
	return names
}

// Members returns every configured country in definition order.
func (r *Resolver) Members() []string {
	var members []string
	for _, def := range r.defs {
		members = append(members, def.Members...)
	}
	return members
}

// Grouping is the result of assigning a set of available scopes to regions.
// Nothing disappears: every scope is either placed or listed as unmapped,
// and every configured member not seen is listed as missing.
type Grouping struct {
	// Members holds, per region, the available scopes in definition order.
	Members map[string][]string
	// Unmapped scopes were present in the data but belong to no region.
	Unmapped []string
	// Missing lists configured members absent from the data, per region.
	Missing map[string][]string
}

// Group assigns the available scopes to regions. Scope names are matched
// after normalization but reported under their original spelling.
func (r *Resolver) Group(scopes []string) *Grouping {
	available := make(map[string]string, len(scopes))
	g := &Grouping{
		Members: make(map[string][]string),
		Missing: make(map[string][]string),
	}
	for _, s := range scopes {
		key := Normalize(s)
		available[key] = s
		if _, ok := r.byMember[key]; !ok {
			g.Unmapped = append(g.Unmapped, s)
		}
	}
	for _, def := range r.defs {
		for _, m := range def.Members {
			if original, ok := available[Normalize(m)]; ok {
				g.Members[def.Name] = append(g.Members[def.Name], original)
			} else {
				g.Missing[def.Name] = append(g.Missing[def.Name], m)
			}
		}
	}
	return g
}
