// Copyright 2026 The Runmill Authors
// SPDX-License-Identifier: Apache-2.0

package injector

import (
	"fmt"
	"regexp"
	"sort"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"

	"github.com/runmill/runmill/lib/credential"
)

// templateSegment matches one {{ expression }} segment of an injector
// template. Expressions are evaluated; everything between segments is
// copied verbatim.
var templateSegment = regexp.MustCompile(`\{\{\s*(.*?)\s*\}\}`)

// Custom injects a user-defined credential type by rendering its
// declarative templates. Each declared field is an expression variable
// holding the field's plaintext value; the reserved "tower" map carries
// engine-provided values, currently tower.filename for the path of the
// generated file.
//
// Render order is file, then env, then extra_vars, so the env and
// extra_vars templates can reference the generated file's path. Any
// compile or evaluation failure (an undeclared variable, a method call
// on a field, a tower key that was never provided) aborts the run
// before the subprocess is spawned.
func (i *Injector) Custom(target *Target, cred *credential.Credential) error {
	if cred.Type.Injectors == nil {
		return nil
	}

	env, err := i.templateEnv(cred.Type)
	if err != nil {
		return err
	}
	activation := map[string]any{
		"tower": map[string]string{},
	}
	for _, field := range cred.Type.Fields {
		value, err := i.get(cred, field.ID)
		if err != nil {
			return err
		}
		activation[field.ID] = value
	}

	spec := cred.Type.Injectors
	if spec.File != "" {
		rendered, err := i.render(env, spec.File, activation, cred.Type)
		if err != nil {
			return fmt.Errorf("rendering file template for credential type %q: %w", cred.Type.Name, err)
		}
		path, err := i.Dir.WriteSecret("credential_injector", []byte(rendered), 0)
		if err != nil {
			return err
		}
		activation["tower"] = map[string]string{"filename": path}
	}

	for _, name := range sortedKeys(spec.Env) {
		rendered, err := i.render(env, spec.Env[name], activation, cred.Type)
		if err != nil {
			return fmt.Errorf("rendering env template %q for credential type %q: %w", name, cred.Type.Name, err)
		}
		i.setEnv(target, name, rendered)
	}

	for _, key := range sortedKeys(spec.ExtraVars) {
		rendered, err := i.render(env, spec.ExtraVars[key], activation, cred.Type)
		if err != nil {
			return fmt.Errorf("rendering extra_vars template %q for credential type %q: %w", key, cred.Type.Name, err)
		}
		target.ExtraVars[key] = rendered
	}
	return nil
}

// templateEnv builds the expression environment for a credential type:
// one string variable per declared field plus the reserved tower map.
func (i *Injector) templateEnv(credentialType *credential.CredentialType) (*cel.Env, error) {
	options := []cel.EnvOption{
		cel.Variable("tower", cel.MapType(cel.StringType, cel.StringType)),
	}
	for _, field := range credentialType.Fields {
		options = append(options, cel.Variable(field.ID, cel.StringType))
	}
	env, err := cel.NewEnv(options...)
	if err != nil {
		return nil, fmt.Errorf("building template environment for credential type %q: %w", credentialType.Name, err)
	}
	return env, nil
}

// render evaluates every {{expr}} segment of template against the
// activation and splices the results into the surrounding text. Values
// rendered from templates that reference a secret field are registered
// with the redactor, since the composite output embeds the secret.
func (i *Injector) render(env *cel.Env, template string, activation map[string]any, credentialType *credential.CredentialType) (string, error) {
	rendered := ""
	last := 0
	for _, match := range templateSegment.FindAllStringSubmatchIndex(template, -1) {
		rendered += template[last:match[0]]
		expression := template[match[2]:match[3]]

		ast, issues := env.Compile(expression)
		if issues != nil && issues.Err() != nil {
			return "", fmt.Errorf("compiling %q: %w", expression, issues.Err())
		}
		program, err := env.Program(ast)
		if err != nil {
			return "", fmt.Errorf("preparing %q: %w", expression, err)
		}
		out, _, err := program.Eval(activation)
		if err != nil {
			return "", fmt.Errorf("evaluating %q: %w", expression, err)
		}
		if text, ok := out.(types.String); ok {
			rendered += string(text)
		} else {
			rendered += fmt.Sprintf("%v", out.Value())
		}
		last = match[1]
	}
	rendered += template[last:]

	if referencesSecretField(template, credentialType) {
		i.Redactor.Track(rendered)
	}
	return rendered, nil
}

// referencesSecretField reports whether the template mentions any field
// the type declares secret.
func referencesSecretField(template string, credentialType *credential.CredentialType) bool {
	for _, field := range credentialType.Fields {
		if !field.Secret {
			continue
		}
		pattern := regexp.MustCompile(`\b` + regexp.QuoteMeta(field.ID) + `\b`)
		if pattern.MatchString(template) {
			return true
		}
	}
	return false
}

func sortedKeys(values map[string]string) []string {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
