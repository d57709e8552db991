package scopes

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// ValidationError represents a single field-level validation failure
type ValidationError struct {
	Field   string `json:"field"`
	Rule    string `json:"rule"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationResult contains the outcome of validating a scope document
type ValidationResult struct {
	Errors []*ValidationError `json:"errors"`
	Valid  bool               `json:"valid"`
}

func (r *ValidationResult) addError(field, rule, message string) {
	r.Errors = append(r.Errors, &ValidationError{Field: field, Rule: rule, Message: message})
	r.Valid = false
}

var scopeNamePattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._/-]*$`)

// Validator performs syntactic and semantic validation of scope documents
// at the import/export boundary. Name uniqueness against the store is
// enforced by the store itself at write time.
type Validator struct{}

// NewValidator creates a new scope document validator
func NewValidator() *Validator {
	return &Validator{}
}

// ParseAndValidate decodes raw JSON, validates it, and returns the document
// in normalized form. On validation failure the result carries field-level
// detail and the document is nil.
func (v *Validator) ParseAndValidate(raw []byte) (*ScopeDocument, *ValidationResult) {
	var doc ScopeDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		result := &ValidationResult{Valid: false}
		result.addError("document", "syntax", fmt.Sprintf("invalid JSON: %v", err))
		return nil, result
	}
	return v.validateAndNormalize(&doc)
}

// ParseAndValidateYAML decodes raw YAML, validates it, and returns the
// document in normalized form. YAML is converted through the JSON codec so
// the wildcard and "all" sentinels behave identically in both formats.
func (v *Validator) ParseAndValidateYAML(raw []byte) (*ScopeDocument, *ValidationResult) {
	var node interface{}
	if err := yaml.Unmarshal(raw, &node); err != nil {
		result := &ValidationResult{Valid: false}
		result.addError("document", "syntax", fmt.Sprintf("invalid YAML: %v", err))
		return nil, result
	}
	jsonBytes, err := json.Marshal(normalizeYAMLValue(node))
	if err != nil {
		result := &ValidationResult{Valid: false}
		result.addError("document", "syntax", fmt.Sprintf("cannot convert YAML document: %v", err))
		return nil, result
	}
	return v.ParseAndValidate(jsonBytes)
}

// Validate checks an already-decoded document and returns it normalized
func (v *Validator) Validate(doc *ScopeDocument) (*ScopeDocument, *ValidationResult) {
	return v.validateAndNormalize(doc)
}

func (v *Validator) validateAndNormalize(doc *ScopeDocument) (*ScopeDocument, *ValidationResult) {
	result := &ValidationResult{Valid: true}

	if doc.SchemaVersion != 0 && doc.SchemaVersion != CurrentSchemaVersion {
		result.addError("schema_version", "schema", fmt.Sprintf("unsupported schema version %d", doc.SchemaVersion))
	}

	if doc.Name == "" {
		result.addError("scope_name", "required", "scope_name is required")
	} else if !scopeNamePattern.MatchString(doc.Name) {
		result.addError("scope_name", "format", fmt.Sprintf("scope_name %q contains invalid characters", doc.Name))
	}

	for i, rule := range doc.ServerAccess {
		field := fmt.Sprintf("server_access[%d]", i)
		if rule.Server == "" {
			result.addError(field+".server", "required", "server is required")
		}
		if len(rule.Methods) == 0 {
			result.addError(field+".methods", "required", "at least one method is required")
		}
		for _, method := range rule.Methods {
			if !IsRegisteredMethod(method) {
				result.addError(field+".methods", "vocabulary", fmt.Sprintf("unknown protocol method %q", method))
			}
		}
		for _, tool := range rule.Tools.Names {
			validateIdentifier(result, field+".tools", "tool", tool)
		}
	}

	for key, set := range doc.UIPermissions {
		field := fmt.Sprintf("ui_permissions.%s", key)
		if !IsRegisteredPermissionKey(key) {
			result.addError(field, "vocabulary", fmt.Sprintf("unregistered permission key %q", key))
		}
		for _, id := range set.IDs {
			validateIdentifier(result, field, "resource", id)
		}
	}

	for i, rule := range doc.AgentAccess {
		field := fmt.Sprintf("agent_access[%d]", i)
		if rule.Agent == "" {
			result.addError(field+".agent", "required", "agent is required")
		}
		if len(rule.Actions) == 0 {
			result.addError(field+".actions", "required", "at least one action is required")
		}
		for _, action := range rule.Actions {
			validateIdentifier(result, field+".actions", "action", action)
		}
	}

	for i, group := range doc.GroupMappings {
		if group == "" {
			result.addError(fmt.Sprintf("group_mappings[%d]", i), "required", "group name must not be empty")
		}
	}

	if !result.Valid {
		return nil, result
	}
	return Normalize(doc), result
}

// validateIdentifier checks a resource/tool/action identifier is non-empty
// and carries no embedded wildcard. The only wildcard spellings allowed are
// the whole-set sentinels handled by ToolSet and ResourceSet.
func validateIdentifier(result *ValidationResult, field, kind, value string) {
	if value == "" {
		result.addError(field, "required", fmt.Sprintf("%s identifier must not be empty", kind))
		return
	}
	if strings.Contains(value, "*") {
		result.addError(field, "wildcard", fmt.Sprintf("%s identifier %q must not embed a wildcard", kind, value))
	}
}

// Normalize returns the canonical form of a document: duplicate server and
// agent entries merged by union, sets de-duplicated and sorted, and the
// current schema version stamped. Two documents that differ only in rule
// order or duplication normalize to equal values, which gives the
// export/import round-trip property.
func Normalize(doc *ScopeDocument) *ScopeDocument {
	out := doc.Clone()
	out.SchemaVersion = CurrentSchemaVersion

	byServer := make(map[string]ServerAccessRule)
	serverOrder := make([]string, 0, len(out.ServerAccess))
	for _, rule := range out.ServerAccess {
		existing, ok := byServer[rule.Server]
		if !ok {
			serverOrder = append(serverOrder, rule.Server)
			byServer[rule.Server] = ServerAccessRule{
				Server:  rule.Server,
				Methods: dedupeSorted(rule.Methods),
				Tools:   ToolSet{}.Union(rule.Tools),
			}
			continue
		}
		existing.Methods = dedupeSorted(append(existing.Methods, rule.Methods...))
		existing.Tools = existing.Tools.Union(rule.Tools)
		byServer[rule.Server] = existing
	}
	sort.Strings(serverOrder)
	out.ServerAccess = make([]ServerAccessRule, 0, len(serverOrder))
	for _, server := range serverOrder {
		out.ServerAccess = append(out.ServerAccess, byServer[server])
	}

	byAgent := make(map[string]AgentAccessRule)
	agentOrder := make([]string, 0, len(out.AgentAccess))
	for _, rule := range out.AgentAccess {
		existing, ok := byAgent[rule.Agent]
		if !ok {
			agentOrder = append(agentOrder, rule.Agent)
			byAgent[rule.Agent] = AgentAccessRule{
				Agent:   rule.Agent,
				Actions: dedupeSorted(rule.Actions),
			}
			continue
		}
		existing.Actions = dedupeSorted(append(existing.Actions, rule.Actions...))
		byAgent[rule.Agent] = existing
	}
	sort.Strings(agentOrder)
	out.AgentAccess = make([]AgentAccessRule, 0, len(agentOrder))
	for _, agent := range agentOrder {
		out.AgentAccess = append(out.AgentAccess, byAgent[agent])
	}

	for key, set := range out.UIPermissions {
		if set.All {
			out.UIPermissions[key] = AllResources()
			continue
		}
		out.UIPermissions[key] = ResourceSet{IDs: dedupeSorted(set.IDs)}
	}

	out.GroupMappings = dedupeSorted(out.GroupMappings)
	return out
}

// Export renders a document in the stable interchange JSON form.
// The version and timestamp fields stay attached so administrators can see
// what they exported; importers ignore them.
func Export(doc *ScopeDocument) ([]byte, error) {
	normalized := Normalize(doc)
	data, err := json.MarshalIndent(normalized, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to export scope document %s: %w", doc.Name, err)
	}
	return data, nil
}

// ExportYAML renders a document as YAML for scopes-file deployments
func ExportYAML(doc *ScopeDocument) ([]byte, error) {
	jsonBytes, err := Export(doc)
	if err != nil {
		return nil, err
	}
	var intermediate map[string]interface{}
	if err := json.Unmarshal(jsonBytes, &intermediate); err != nil {
		return nil, fmt.Errorf("failed to export scope document %s: %w", doc.Name, err)
	}
	data, err := yaml.Marshal(intermediate)
	if err != nil {
		return nil, fmt.Errorf("failed to export scope document %s: %w", doc.Name, err)
	}
	return data, nil
}

func dedupeSorted(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// normalizeYAMLValue converts yaml.v3 map[string]interface{} trees into
// JSON-encodable values (yaml decodes nested maps with interface{} keys)
func normalizeYAMLValue(value interface{}) interface{} {
	switch typed := value.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(typed))
		for k, v := range typed {
			out[k] = normalizeYAMLValue(v)
		}
		return out
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(typed))
		for k, v := range typed {
			out[fmt.Sprintf("%v", k)] = normalizeYAMLValue(v)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(typed))
		for i, v := range typed {
			out[i] = normalizeYAMLValue(v)
		}
		return out
	default:
		return value
	}
}
