// Package vault isolates device credentials in the host OS secret store.
// The database only ever sees the opaque reference string.
package vault

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/zalando/go-keyring"
)

const service = "netval-app"

// Material is what an SSH session needs to authenticate.
type Material struct {
	Username string `json:"username"`
	Password string `json:"password,omitempty"`
	KeyPath  string `json:"key_path,omitempty"`
}

type Vault struct{}

func New() *Vault { return &Vault{} }

// Store writes the material under a fresh opaque reference and returns it.
func (v *Vault) Store(projectID, deviceID string, m Material) (string, error) {
	if m.Username == "" {
		return "", fmt.Errorf("credential material requires a username")
	}
	payload, err := json.Marshal(m)
	if err != nil {
		return "", err
	}
	ref := fmt.Sprintf("netval:%s:%s:%s", projectID, deviceID, uuid.NewString())
	if err := keyring.Set(service, ref, string(payload)); err != nil {
		return "", fmt.Errorf("secret store write failed: %w", err)
	}
	return ref, nil
}

func (v *Vault) Load(ref string) (Material, error) {
	raw, err := keyring.Get(service, ref)
	if err != nil {
		return Material{}, fmt.Errorf("secret store read failed: %w", err)
	}
	var m Material
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return Material{}, err
	}
	return m, nil
}

func (v *Vault) Delete(ref string) error {
	err := keyring.Delete(service, ref)
	if err != nil && err != keyring.ErrNotFound {
		return fmt.Errorf("secret store delete failed: %w", err)
	}
	return nil
}
