// Copyright 2026 The Runmill Authors
// SPDX-License-Identifier: Apache-2.0

package injector

import (
	"fmt"

	"github.com/runmill/runmill/lib/credential"
)

// Source injects the credential of an inventory update for the named
// source plugin. Several plugins read ini or yaml files rather than
// environment variables; those are generated into the private data
// directory and located through the plugin's path variable.
func (i *Injector) Source(target *Target, cred *credential.Credential, source string, sourceVars map[string]any) error {
	if cred == nil {
		return nil
	}
	switch source {
	case "ec2":
		return i.sourceEC2(target, cred)
	case "vmware":
		return i.sourceVMware(target, cred)
	case "azure":
		return i.cloudAzure(target, cred)
	case "gce":
		return i.cloudGCE(target, cred)
	case "openstack":
		return i.cloudOpenStack(target, cred, true, sourceVars)
	case "satellite6":
		return i.sourceSatellite6(target, cred)
	case "cloudforms":
		return i.sourceCloudForms(target, cred)
	}
	return fmt.Errorf("inventory source %q has no credential injection", source)
}

func (i *Injector) sourceEC2(target *Target, cred *credential.Credential) error {
	username, err := i.get(cred, "username")
	if err != nil {
		return err
	}
	password, err := i.get(cred, "password")
	if err != nil {
		return err
	}
	i.setEnv(target, "AWS_ACCESS_KEY_ID", username)
	i.setEnv(target, "AWS_SECRET_ACCESS_KEY", password)
	if cred.Has("security_token") {
		token, err := i.get(cred, "security_token")
		if err != nil {
			return err
		}
		i.setEnv(target, "AWS_SECURITY_TOKEN", token)
	}

	contents := "[ec2]\n" +
		"regions = all\n" +
		"regions_exclude = us-gov-west-1, cn-north-1\n" +
		"destination_variable = public_dns_name\n" +
		"vpc_destination_variable = ip_address\n" +
		"route53 = False\n" +
		"all_instances = True\n" +
		"all_rds_instances = False\n" +
		"rds = False\n" +
		"cache_path = /tmp\n" +
		"cache_max_age = 300\n"
	path, err := i.Dir.WriteSecret("ec2.ini", []byte(contents), 0)
	if err != nil {
		return err
	}
	i.setEnv(target, "EC2_INI_PATH", path)
	return nil
}

func (i *Injector) sourceVMware(target *Target, cred *credential.Credential) error {
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
	contents := fmt.Sprintf("[vmware]\nusername = %s\npassword = %s\nserver = %s\n",
		username, password, host)
	path, err := i.Dir.WriteSecret("vmware.ini", []byte(contents), 0)
	if err != nil {
		return err
	}
	i.setEnv(target, "VMWARE_INI_PATH", path)
	return nil
}

func (i *Injector) sourceSatellite6(target *Target, cred *credential.Credential) error {
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
	contents := fmt.Sprintf("[foreman]\nurl = %s\nuser = %s\npassword = %s\n",
		host, username, password)
	path, err := i.Dir.WriteSecret("foreman.ini", []byte(contents), 0)
	if err != nil {
		return err
	}
	i.setEnv(target, "FOREMAN_INI_PATH", path)
	return nil
}

func (i *Injector) sourceCloudForms(target *Target, cred *credential.Credential) error {
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
	contents := fmt.Sprintf("[cloudforms]\nurl = %s\nusername = %s\npassword = %s\nssl_verify = false\n",
		host, username, password)
	path, err := i.Dir.WriteSecret("cloudforms.ini", []byte(contents), 0)
	if err != nil {
		return err
	}
	i.setEnv(target, "CLOUDFORMS_INI_PATH", path)
	return nil
}
