package schema

import (
	"fmt"
	"io"
	"os"
	"regexp"

	"github.com/BurntSushi/toml"

	"weave/internal/pipeline"
	"weave/internal/value"
)

// tomlDocument is the top-level declarative schema document: one [[model]]
// per entity, each carrying its fields/relations/indices, plus an optional
// [validation] block restricting allowed names.
type tomlDocument struct {
	Validation *tomlValidation `toml:"validation"`
	Models     []tomlModel     `toml:"model"`
}

type tomlValidation struct {
	AllowedNamePattern string `toml:"allowed_name_pattern"`
}

type tomlModel struct {
	Name       string        `toml:"name"`
	Table      string        `toml:"table"`
	URLSegment string        `toml:"url_segment"`
	Identity   bool          `toml:"identity"`
	Actions    []string      `toml:"actions"`
	Fields     []tomlField   `toml:"field"`
	Relations  []tomlRelation `toml:"relation"`
	Indices    []tomlIndex   `toml:"index"`
}

type tomlField struct {
	Name          string `toml:"name"`
	Kind          string `toml:"kind"`
	Optional      bool   `toml:"optional"`
	Auto          bool   `toml:"auto"`
	AutoIncrement bool   `toml:"auto_increment"`
	Virtual       bool   `toml:"virtual"`
	KeepPrevious  bool   `toml:"keep_previous_after_save"`
	AuthIdentity  bool   `toml:"auth_identity"`
	// AuthBy marks a password-style checker field: the field's stored bcrypt
	// hash (named by auth_by_stored, defaulting to the field itself) is
	// compared against the sign-in candidate. Declarative schemas cannot
	// express arbitrary checker pipelines; hash comparison is the one shape
	// the TOML path supports.
	AuthBy       bool   `toml:"auth_by"`
	AuthByStored string `toml:"auth_by_stored"`
}

type tomlRelation struct {
	Name       string   `toml:"name"`
	Target     string   `toml:"target"`
	IsVec      bool     `toml:"is_vec"`
	Optional   bool     `toml:"optional"`
	Fields     []string `toml:"fields"`
	References []string `toml:"references"`
	Through    string   `toml:"through"`
}

type tomlIndex struct {
	Type   string   `toml:"type"`
	Fields []string `toml:"fields"`
}

// ParseTOMLFile opens path and parses it as a declarative schema document.
func ParseTOMLFile(path string) (*Graph, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("schema: open file %q: %w", path, err)
	}
	defer f.Close()
	return ParseTOML(f)
}

// ParseTOML decodes a declarative schema document and converts it into a
// frozen Graph via the same Builder the programmatic path uses.
func ParseTOML(r io.Reader) (*Graph, error) {
	var doc tomlDocument
	if _, err := toml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("schema: toml decode error: %w", err)
	}
	return newTOMLConverter(&doc).convert()
}

type tomlConverter struct {
	doc    *tomlDocument
	nameRe *regexp.Regexp
}

func newTOMLConverter(doc *tomlDocument) *tomlConverter {
	return &tomlConverter{doc: doc}
}

func (c *tomlConverter) convert() (*Graph, error) {
	if err := c.compileNamePattern(); err != nil {
		return nil, err
	}

	b := NewBuilder()
	for i := range c.doc.Models {
		tm := &c.doc.Models[i]
		if err := c.validateName(tm.Name); err != nil {
			return nil, fmt.Errorf("schema: model %q: %w", tm.Name, err)
		}
		b.Model(tm.Name, func(mb *ModelBuilder) {
			if tm.Table != "" {
				mb.TableName(tm.Table)
			}
			if tm.URLSegment != "" {
				mb.URLSegment(tm.URLSegment)
			}
			if tm.Identity {
				mb.Identity()
			}
			var actions []Action
			for _, a := range tm.Actions {
				actions = append(actions, Action(a))
			}
			mb.EnableActions(actions...)

			for _, tf := range tm.Fields {
				kind, err := parseKind(tf.Kind)
				if err != nil {
					continue // surfaced again below via a second pass, keeps this closure error-free
				}
				opt := Required
				if tf.Optional {
					opt = Optional
				}
				prevRule := DontKeep
				if tf.KeepPrevious {
					prevRule = KeepAfterSaved
				}
				field := &Field{
					Kind:              kind,
					Optionality:       opt,
					Auto:              tf.Auto,
					AutoIncrement:     tf.AutoIncrement,
					Virtual:           tf.Virtual,
					PreviousValueRule: prevRule,
					AuthIdentity:      tf.AuthIdentity,
				}
				if tf.AuthBy {
					stored := tf.AuthByStored
					if stored == "" {
						stored = tf.Name
					}
					field.AuthBy = pipeline.New(pipeline.HashCompare(stored))
				}
				mb.Field(tf.Name, field)
			}

			for _, tr := range tm.Relations {
				opt := Required
				if tr.Optional {
					opt = Optional
				}
				mb.Relation(tr.Name, &Relation{
					TargetModel: tr.Target,
					IsVec:       tr.IsVec,
					Optionality: opt,
					Fields:      tr.Fields,
					References:  tr.References,
					Through:     tr.Through,
				})
			}

			for _, ti := range tm.Indices {
				switch ti.Type {
				case "primary":
					mb.PrimaryIndex(ti.Fields...)
				case "unique":
					mb.UniqueIndex(ti.Fields...)
				default:
					mb.SecondaryIndex(ti.Fields...)
				}
			}
		})

		// Re-validate field kinds outside the closure so a bad kind produces a
		// real error instead of being silently skipped.
		for _, tf := range tm.Fields {
			if _, err := parseKind(tf.Kind); err != nil {
				return nil, fmt.Errorf("schema: model %q field %q: %w", tm.Name, tf.Name, err)
			}
		}
	}

	return b.Build()
}

func (c *tomlConverter) compileNamePattern() error {
	if c.doc.Validation == nil || c.doc.Validation.AllowedNamePattern == "" {
		return nil
	}
	re, err := regexp.Compile(c.doc.Validation.AllowedNamePattern)
	if err != nil {
		return fmt.Errorf("schema: invalid allowed_name_pattern %q: %w", c.doc.Validation.AllowedNamePattern, err)
	}
	c.nameRe = re
	return nil
}

func (c *tomlConverter) validateName(name string) error {
	if c.nameRe != nil && !c.nameRe.MatchString(name) {
		return fmt.Errorf("name %q does not match allowed pattern", name)
	}
	return nil
}

func parseKind(raw string) (value.Kind, error) {
	switch raw {
	case "bool":
		return value.KindBool, nil
	case "int32":
		return value.KindInt32, nil
	case "int64":
		return value.KindInt64, nil
	case "float32":
		return value.KindFloat32, nil
	case "float64":
		return value.KindFloat64, nil
	case "decimal":
		return value.KindDecimal, nil
	case "string":
		return value.KindString, nil
	case "date":
		return value.KindDate, nil
	case "datetime":
		return value.KindDateTime, nil
	case "enum":
		return value.KindEnum, nil
	default:
		return value.KindNull, fmt.Errorf("unsupported field kind %q", raw)
	}
}
