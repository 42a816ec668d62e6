// Copyright 2026 The Runmill Authors
// SPDX-License-Identifier: Apache-2.0

package injector

import (
	"bytes"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/runmill/runmill/lib/credential"
)

// Cloud injects a cloud credential attached to a playbook run. Managed
// types use the fixed environment contracts of their provider tooling;
// user-defined types go through the template engine.
func (i *Injector) Cloud(target *Target, cred *credential.Credential) error {
	if cred == nil {
		return nil
	}
	if !cred.Type.Managed {
		return i.Custom(target, cred)
	}
	switch cred.Type.Name {
	case "aws":
		return i.cloudAWS(target, cred)
	case "rackspace":
		return i.cloudRackspace(target, cred)
	case "gce":
		return i.cloudGCE(target, cred)
	case "azure":
		return i.cloudAzure(target, cred)
	case "azure_rm":
		return i.cloudAzureRM(target, cred)
	case "vmware":
		return i.cloudVMware(target, cred)
	case "openstack":
		return i.cloudOpenStack(target, cred, false, nil)
	case "satellite6":
		return i.sourceSatellite6(target, cred)
	case "cloudforms":
		return i.sourceCloudForms(target, cred)
	}
	return fmt.Errorf("managed credential type %q has no cloud injection", cred.Type.Name)
}

func (i *Injector) cloudAWS(target *Target, cred *credential.Credential) error {
	username, err := i.get(cred, "username")
	if err != nil {
		return err
	}
	password, err := i.get(cred, "password")
	if err != nil {
		return err
	}
	i.setEnv(target, "AWS_ACCESS_KEY", username)
	i.setEnv(target, "AWS_SECRET_KEY", password)

	// The session token variable is only present when the credential
	// actually carries one; provider tooling treats an empty token as
	// an authentication attempt.
	if cred.Has("security_token") {
		token, err := i.get(cred, "security_token")
		if err != nil {
			return err
		}
		i.setEnv(target, "AWS_SECURITY_TOKEN", token)
	}
	return nil
}

func (i *Injector) cloudRackspace(target *Target, cred *credential.Credential) error {
	username, err := i.get(cred, "username")
	if err != nil {
		return err
	}
	password, err := i.get(cred, "password")
	if err != nil {
		return err
	}
	i.setEnv(target, "RAX_USERNAME", username)
	i.setEnv(target, "RAX_API_KEY", password)
	i.setEnv(target, "CLOUD_VERIFY_SSL", "False")
	return nil
}

func (i *Injector) cloudGCE(target *Target, cred *credential.Credential) error {
	username, err := i.get(cred, "username")
	if err != nil {
		return err
	}
	project, err := i.get(cred, "project")
	if err != nil {
		return err
	}
	keyData, err := i.get(cred, "ssh_key_data")
	if err != nil {
		return err
	}
	path, err := i.Dir.WriteSecret("gce_credential", []byte(keyData), 0)
	if err != nil {
		return err
	}
	i.setEnv(target, "GCE_EMAIL", username)
	i.setEnv(target, "GCE_PROJECT", project)
	i.setEnv(target, "GCE_PEM_FILE_PATH", path)
	return nil
}

func (i *Injector) cloudAzure(target *Target, cred *credential.Credential) error {
	username, err := i.get(cred, "username")
	if err != nil {
		return err
	}
	keyData, err := i.get(cred, "ssh_key_data")
	if err != nil {
		return err
	}
	path, err := i.Dir.WriteSecret("azure_credential", []byte(keyData), 0)
	if err != nil {
		return err
	}
	i.setEnv(target, "AZURE_SUBSCRIPTION_ID", username)
	i.setEnv(target, "AZURE_CERT_PATH", path)
	return nil
}

// cloudAzureRM handles both resource-manager authentication forms:
// service principal (client/secret/tenant) and active directory
// (username/password). The forms are mutually exclusive; a credential
// carrying a client id uses the service principal path.
func (i *Injector) cloudAzureRM(target *Target, cred *credential.Credential) error {
	subscription, err := i.get(cred, "subscription")
	if err != nil {
		return err
	}
	i.setEnv(target, "AZURE_SUBSCRIPTION_ID", subscription)

	if cred.Has("client") {
		client, err := i.get(cred, "client")
		if err != nil {
			return err
		}
		clientSecret, err := i.get(cred, "secret")
		if err != nil {
			return err
		}
		tenant, err := i.get(cred, "tenant")
		if err != nil {
			return err
		}
		i.setEnv(target, "AZURE_CLIENT_ID", client)
		i.setEnv(target, "AZURE_SECRET", clientSecret)
		i.setEnv(target, "AZURE_TENANT", tenant)
		return nil
	}

	username, err := i.get(cred, "username")
	if err != nil {
		return err
	}
	password, err := i.get(cred, "password")
	if err != nil {
		return err
	}
	i.setEnv(target, "AZURE_AD_USER", username)
	i.setEnv(target, "AZURE_PASSWORD", password)
	return nil
}

func (i *Injector) cloudVMware(target *Target, cred *credential.Credential) error {
	username, err := i.get(cred, "username")
	if err != nil {
		return err
	}
	password, err := i.get(cred, "password")
	if err != nil {
		return err
	}
	host, err := i.get(cred, "host")
	if err != nil {
		return err
	}
	i.setEnv(target, "VMWARE_USER", username)
	i.setEnv(target, "VMWARE_PASSWORD", password)
	i.setEnv(target, "VMWARE_HOST", host)
	return nil
}

// cloudOpenStack writes the client config file consumed through
// OS_CLIENT_CONFIG_FILE. The inventory-source form additionally sets
// the "private" address preference, which defaults to true and is
// overridden only by an explicit private=false in the update's source
// variables.
func (i *Injector) cloudOpenStack(target *Target, cred *credential.Credential, inventorySource bool, sourceVars map[string]any) error {
	username, err := i.get(cred, "username")
	if err != nil {
		return err
	}
	password, err := i.get(cred, "password")
	if err != nil {
		return err
	}
	host, err := i.get(cred, "host")
	if err != nil {
		return err
	}
	project, err := i.get(cred, "project")
	if err != nil {
		return err
	}

	cloudEntry := map[string]any{
		"auth": map[string]any{
			"auth_url":     host,
			"username":     username,
			"password":     password,
			"project_name": project,
		},
	}
	if inventorySource {
		private := true
		if value, ok := sourceVars["private"].(bool); ok {
			private = value
		}
		cloudEntry["private"] = private
	}
	config := map[string]any{
		"clouds": map[string]any{
			"devstack": cloudEntry,
		},
	}

	var rendered bytes.Buffer
	encoder := yaml.NewEncoder(&rendered)
	encoder.SetIndent(2)
	if err := encoder.Encode(config); err != nil {
		return fmt.Errorf("rendering openstack client config: %w", err)
	}
	if err := encoder.Close(); err != nil {
		return fmt.Errorf("rendering openstack client config: %w", err)
	}

	path, err := i.Dir.WriteSecret("openstack_credential", rendered.Bytes(), 0)
	if err != nil {
		return err
	}
	i.setEnv(target, "OS_CLIENT_CONFIG_FILE", path)
	return nil
}
