// Package ident derives the keys that tie scraped artifacts to datasets,
// facts and question ranks. The scraper never writes foreign keys, so the
// file and directory names are the only link between them.
package ident

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Family describes how a dataset names its facts and artifacts
type Family struct {
	Name        string `mapstructure:"name" yaml:"name"`
	Dir         string `mapstructure:"dir" yaml:"dir"`
	ExportFile  string `mapstructure:"export_file" yaml:"export_file"`
	Description string `mapstructure:"description" yaml:"description"`
	// Prefixed families carry "<name>_" in question and artifact names
	Prefixed bool `mapstructure:"prefixed" yaml:"prefixed"`
	// CamelCase families store relations like "wasBornIn"
	CamelCase bool `mapstructure:"camel_case" yaml:"camel_case"`
	// Benchmark families keep only the canonical fact classes
	Benchmark bool `mapstructure:"benchmark" yaml:"benchmark"`
}

// DefaultFamilies returns the three datasets of the benchmark
func DefaultFamilies() []Family {
	return []Family{
		{
			Name:        "yago",
			Dir:         "YAGO",
			ExportFile:  "kg.json",
			Description: "YAGO is a KG derived from Wikipedia, WordNet and GeoNames.",
			Prefixed:    true,
			CamelCase:   true,
		},
		{
			Name:        "dbpedia",
			Dir:         "DBpedia",
			ExportFile:  "kg.json",
			Description: "DBPedia is a KG derived from structured information extracted from Wikipedia.",
			Prefixed:    true,
		},
		{
			Name:        "factbench",
			Dir:         "FactBench",
			ExportFile:  "kg.json",
			Description: "FactBench is a benchmark designed to evaluate fact validation algorithms. It contains 10 different specific relations.",
			Benchmark:   true,
		},
	}
}

// factClasses are the benchmark classes kept at load time. The labels are
// opaque discriminators set by the benchmark producer.
var factClasses = []string{
	"correct_",
	"wrong_mix_domain",
	"wrong_mix_range",
	"wrong_mix_domainrange",
	"wrong_mix_property",
	"wrong_mix_random",
}

// classRoots start every benchmark fact id and evidence directory
var classRoots = []string{"correct", "wrong"}

// Artifact is the decoded form of a composite evidence id
type Artifact struct {
	Dataset string
	FactID  string
	Index   int
}

var (
	ErrNoIndex       = errors.New("missing numeric rank suffix")
	ErrEmptyFact     = errors.New("empty fact id")
	ErrUnknownFamily = errors.New("unknown dataset")
)

// Codec applies the naming rules of a fixed set of families
type Codec struct {
	families  []Family
	byName    map[string]Family
	benchmark string
}

// New creates a codec over the given families
func New(families []Family) *Codec {
	c := &Codec{
		families: families,
		byName:   make(map[string]Family, len(families)),
	}
	for _, f := range families {
		c.byName[f.Name] = f
		if f.Benchmark && c.benchmark == "" {
			c.benchmark = f.Name
		}
	}
	return c
}

// Families returns the configured families in declaration order
func (c *Codec) Families() []Family {
	return c.families
}

// Family looks up a family by dataset name
func (c *Codec) Family(name string) (Family, bool) {
	f, ok := c.byName[name]
	return f, ok
}

// KeepFact reports whether a fact id survives the class filter
func (c *Codec) KeepFact(dataset, factID string) bool {
	f, ok := c.byName[dataset]
	if !ok || !f.Benchmark {
		return true
	}
	for _, class := range factClasses {
		if strings.HasPrefix(factID, class) {
			return true
		}
	}
	return false
}

// QuestionKey returns the directory name holding a fact's questions
func (c *Codec) QuestionKey(dataset, factID string) string {
	if f, ok := c.byName[dataset]; ok && f.Prefixed {
		return f.Name + "_" + factID
	}
	return factID
}

// MatchEvidenceDir reports whether a directory holds scraped evidence
func (c *Codec) MatchEvidenceDir(name string) bool {
	for _, f := range c.families {
		if f.Prefixed && strings.HasPrefix(name, f.Name+"_") {
			return true
		}
	}
	if c.benchmark == "" {
		return false
	}
	for _, root := range classRoots {
		if strings.HasPrefix(name, root) {
			return true
		}
	}
	return false
}

// ParseArtifact splits "<prefix>_<fact>_<index>" into its parts
func (c *Codec) ParseArtifact(id string) (Artifact, error) {
	cut := strings.LastIndex(id, "_")
	if cut < 0 {
		return Artifact{}, fmt.Errorf("parse artifact %q: %w", id, ErrNoIndex)
	}
	index, err := strconv.Atoi(id[cut+1:])
	if err != nil || index < 0 {
		return Artifact{}, fmt.Errorf("parse artifact %q: %w", id, ErrNoIndex)
	}

	head := id[:cut]
	dataset := ""
	for _, name := range c.sortedNames() {
		if strings.HasPrefix(head, name+"_") {
			dataset = name
			head = head[len(name)+1:]
			break
		}
	}

	if c.benchmark != "" && hasClassRoot(head) {
		dataset = c.benchmark
	}

	if head == "" {
		return Artifact{}, fmt.Errorf("parse artifact %q: %w", id, ErrEmptyFact)
	}
	if dataset == "" {
		return Artifact{}, fmt.Errorf("parse artifact %q: %w", id, ErrUnknownFamily)
	}

	return Artifact{Dataset: dataset, FactID: head, Index: index}, nil
}

// sortedNames returns family names longest first so that a name that is a
// prefix of another never shadows it
func (c *Codec) sortedNames() []string {
	names := make([]string, 0, len(c.families))
	for _, f := range c.families {
		names = append(names, f.Name)
	}
	sort.SliceStable(names, func(i, j int) bool { return len(names[i]) > len(names[j]) })
	return names
}

func hasClassRoot(factID string) bool {
	for _, root := range classRoots {
		if strings.HasPrefix(factID, root+"_") {
			return true
		}
	}
	return false
}
