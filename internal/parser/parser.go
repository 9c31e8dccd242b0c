// Package parser decodes Appian object XML into typed records. A malformed
// object degrades to an Unknown record carrying the raw XML; it never aborts
// the package.
package parser

import (
	"encoding/xml"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"appmerge/internal/reader"
	"appmerge/internal/types"
)

// objectXML is the decoding envelope shared by all object types. Appian's
// schema is vendor-defined; elements not listed here are opaque and survive
// only in the raw XML.
type objectXML struct {
	XMLName     xml.Name
	UUID        string `xml:"uuid"`
	Name        string `xml:"name"`
	VersionUUID string `xml:"versionUuid"`
	Deprecated  bool   `xml:"deprecated"`

	// Scripted bodies. Interfaces and rules use definition; integrations
	// and web APIs use expression.
	Definition string `xml:"definition"`
	Expression string `xml:"expression"`

	Parameters []paramXML `xml:"parameters>parameter"`
	Inputs     []paramXML `xml:"inputs>input"`
	OutputType string     `xml:"outputType"`
	Security   string     `xml:"security"`

	Endpoint string   `xml:"endpoint"`
	Methods  []string `xml:"httpMethods>method"`
	AuthType string   `xml:"auth>type"`

	Nodes     []nodeXML     `xml:"nodes>node"`
	Flows     []flowXML     `xml:"flows>flow"`
	Variables []variableXML `xml:"variables>variable"`

	Fields        []fieldXML        `xml:"fields>field"`
	Relationships []relationshipXML `xml:"relationships>relationship"`
	Views         []namedXML        `xml:"views>view"`
	Actions       []namedXML        `xml:"actions>action"`

	Value    string `xml:"value"`
	DataType string `xml:"type"`
	Scope    string `xml:"scope"`

	Pages []pageXML `xml:"pages>page"`

	ParentUUID string   `xml:"parentUuid"`
	Members    []string `xml:"members>member"`

	SystemType string     `xml:"systemType"`
	Properties []propXML  `xml:"properties>property"`
	Entities   []namedXML `xml:"entities>entity"`
}

type paramXML struct {
	Name     string `xml:"name,attr"`
	Type     string `xml:"type,attr"`
	Required bool   `xml:"required,attr"`
}

type nodeXML struct {
	UUID       string    `xml:"uuid,attr"`
	Name       string    `xml:"name,attr"`
	Type       string    `xml:"type,attr"`
	Properties []propXML `xml:"property"`
}

type flowXML struct {
	From      string `xml:"from,attr"`
	To        string `xml:"to,attr"`
	Condition string `xml:"condition,attr"`
}

type variableXML struct {
	Name    string `xml:"name,attr"`
	Type    string `xml:"type,attr"`
	Default string `xml:"default,attr"`
}

type fieldXML struct {
	Name string `xml:"name,attr"`
	Type string `xml:"type,attr"`
}

type relationshipXML struct {
	Name   string `xml:"name,attr"`
	Target string `xml:"target,attr"`
	Type   string `xml:"type,attr"`
}

type namedXML struct {
	Name string `xml:"name,attr"`
	UUID string `xml:"uuid,attr"`
}

type propXML struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

type pageXML struct {
	Name       string    `xml:"name,attr"`
	ObjectUUID string    `xml:"objectUuid,attr"`
	Children   []pageXML `xml:"page"`
}

// Parser decodes package entries into ParsedObjects.
type Parser struct {
	logger *zap.Logger
}

// New creates a Parser.
func New(logger *zap.Logger) *Parser {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Parser{logger: logger}
}

// ParsePackage decodes every entry of one package into a uuid-keyed lookup.
// Objects that fail to decode are recorded as Unknown with the raw XML only.
func (p *Parser) ParsePackage(entries []reader.Entry, role types.PackageRole) (types.Lookup, error) {
	lookup := make(types.Lookup, len(entries))
	decoded := 0

	for _, e := range entries {
		obj, ok := p.parseEntry(e)
		if ok {
			decoded++
		}
		lookup[obj.UUID] = obj
	}

	// Per-object failures degrade locally; only a package where nothing
	// decoded at all is fatal.
	if decoded == 0 {
		return nil, types.WrapError(types.ErrParseFailure, nil,
			"%s yielded no parseable objects", role.Label())
	}

	p.logger.Debug("Package parsed",
		zap.String("package", string(role)),
		zap.Int("objects", len(lookup)),
		zap.Int("undecoded", len(lookup)-decoded))

	return lookup, nil
}

// parseEntry decodes one XML entry, degrading to Unknown on failure. The
// second return reports whether the XML decoded at all.
func (p *Parser) parseEntry(e reader.Entry) (*types.ParsedObject, bool) {
	raw := string(e.Data)

	var env objectXML
	if err := xml.Unmarshal(e.Data, &env); err != nil || env.UUID == "" {
		p.logger.Warn("Object XML could not be decoded",
			zap.String("file", e.FileName),
			zap.String("dir", e.Dir),
			zap.Error(err))
		return &types.ParsedObject{
			UUID:   fallbackUUID(e),
			Name:   strings.TrimSuffix(e.FileName, ".xml"),
			Type:   types.TypeUnknown,
			RawXML: raw,
		}, false
	}

	obj := &types.ParsedObject{
		UUID:        env.UUID,
		Name:        env.Name,
		Type:        e.Type,
		VersionUUID: env.VersionUUID,
		RawXML:      raw,
		Deprecated:  env.Deprecated,
		Fields:      map[string]any{},
		Properties:  map[string]any{},
	}
	if obj.Name == "" {
		obj.Name = strings.TrimSuffix(e.FileName, ".xml")
	}

	switch e.Type {
	case types.TypeInterface:
		obj.Code = env.Definition
		obj.Fields["parameters"] = paramsPayload(env.Parameters)
		obj.Properties["security"] = env.Security

	case types.TypeExpressionRule:
		obj.Code = env.Definition
		obj.Fields["inputs"] = paramsPayload(env.Inputs)
		obj.Properties["output_type"] = env.OutputType

	case types.TypeIntegration, types.TypeWebAPI:
		obj.Code = env.Expression
		obj.Properties["endpoint"] = env.Endpoint
		obj.Properties["methods"] = stringsPayload(env.Methods)
		obj.Properties["auth"] = env.AuthType

	case types.TypeProcessModel:
		obj.Fields["nodes"] = nodesPayload(env.Nodes)
		obj.Fields["flows"] = flowsPayload(env.Flows)
		obj.Fields["variables"] = variablesPayload(env.Variables)

	case types.TypeRecordType:
		obj.Fields["fields"] = fieldsPayload(env.Fields)
		obj.Fields["relationships"] = relationshipsPayload(env.Relationships)
		obj.Fields["views"] = namedPayload(env.Views)
		obj.Fields["actions"] = namedPayload(env.Actions)

	case types.TypeCDT:
		obj.Fields["fields"] = fieldsPayload(env.Fields)

	case types.TypeConstant:
		obj.Fields["value"] = env.Value
		obj.Properties["data_type"] = env.DataType
		obj.Properties["scope"] = env.Scope

	case types.TypeSite:
		obj.Fields["pages"] = pagesPayload(env.Pages, "")

	case types.TypeGroup:
		obj.Fields["parent_uuid"] = env.ParentUUID
		obj.Fields["members"] = stringsPayload(env.Members)

	case types.TypeConnectedSystem:
		obj.Properties["system_type"] = env.SystemType
		obj.Fields["properties"] = propsPayload(env.Properties)

	case types.TypeDataStore:
		obj.Fields["entities"] = namedPayload(env.Entities)

	default:
		// Unknown type from an unrecognized directory: keep identity only.
		obj.Fields = nil
		obj.Properties = nil
	}

	return obj, true
}

// fallbackUUID synthesizes a stable key for objects whose XML hides its
// uuid, so they still participate in NEW/REMOVED determination.
func fallbackUUID(e reader.Entry) string {
	return fmt.Sprintf("unparsed:%s/%s", e.Dir, e.FileName)
}

func paramsPayload(params []paramXML) []any {
	out := make([]any, 0, len(params))
	for _, p := range params {
		out = append(out, map[string]any{
			"name":     p.Name,
			"type":     p.Type,
			"required": p.Required,
		})
	}
	return out
}

func nodesPayload(nodes []nodeXML) []any {
	out := make([]any, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, map[string]any{
			"uuid":       n.UUID,
			"name":       n.Name,
			"type":       n.Type,
			"properties": propsPayload(n.Properties),
		})
	}
	return out
}

func flowsPayload(flows []flowXML) []any {
	out := make([]any, 0, len(flows))
	for _, f := range flows {
		out = append(out, map[string]any{
			"from":      f.From,
			"to":        f.To,
			"condition": f.Condition,
		})
	}
	return out
}

func variablesPayload(vars []variableXML) []any {
	out := make([]any, 0, len(vars))
	for _, v := range vars {
		out = append(out, map[string]any{
			"name":    v.Name,
			"type":    v.Type,
			"default": v.Default,
		})
	}
	return out
}

func fieldsPayload(fields []fieldXML) []any {
	out := make([]any, 0, len(fields))
	for _, f := range fields {
		out = append(out, map[string]any{"name": f.Name, "type": f.Type})
	}
	return out
}

func relationshipsPayload(rels []relationshipXML) []any {
	out := make([]any, 0, len(rels))
	for _, r := range rels {
		out = append(out, map[string]any{
			"name":   r.Name,
			"target": r.Target,
			"type":   r.Type,
		})
	}
	return out
}

func namedPayload(items []namedXML) []any {
	out := make([]any, 0, len(items))
	for _, n := range items {
		out = append(out, map[string]any{"name": n.Name, "uuid": n.UUID})
	}
	return out
}

func propsPayload(props []propXML) map[string]any {
	out := make(map[string]any, len(props))
	for _, p := range props {
		out[p.Name] = p.Value
	}
	return out
}

func stringsPayload(items []string) []any {
	out := make([]any, 0, len(items))
	for _, s := range items {
		out = append(out, s)
	}
	return out
}

// pagesPayload flattens the page tree into path strings so hierarchy stays
// order-significant in the comparison view.
func pagesPayload(pages []pageXML, prefix string) []any {
	var out []any
	for _, pg := range pages {
		path := pg.Name
		if prefix != "" {
			path = prefix + "/" + pg.Name
		}
		out = append(out, map[string]any{"path": path, "object_uuid": pg.ObjectUUID})
		out = append(out, pagesPayload(pg.Children, path)...)
	}
	return out
}
