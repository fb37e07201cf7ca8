package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/mutualcredit/mcledger/crypto"
	"github.com/mutualcredit/mcledger/types"
)

const (
	secp256k1 = "secp256k1"

	genKeysCmdFlag      = "gen-keys"
	forceKeyGenCmdFlag  = "force"
	keyFileCmdFlag      = "key-file"
	defaultKeysFileName = "keys.json"
)

type (
	// Keys of the agent, the signing key is also the network identity of the node.
	Keys struct {
		Signer *crypto.InMemorySecp256K1Signer
	}

	keysConfig struct {
		HomeDir         *string
		KeyFilePath     string
		GenerateKeys    bool
		ForceGeneration bool
	}

	keyFile struct {
		SigningPrivateKey key `json:"signing"`
	}

	key struct {
		Algorithm  string      `json:"algorithm"`
		PrivateKey types.Bytes `json:"privateKey"`
	}
)

func newKeysConf(conf *rootConfig) *keysConfig {
	return &keysConfig{HomeDir: &conf.HomeDir}
}

func (keysConf *keysConfig) addCmdFlags(cmd *cobra.Command) {
	cmd.Flags().BoolVarP(&keysConf.GenerateKeys, genKeysCmdFlag, "g", false, "generates new keys if none exist")
	cmd.Flags().BoolVarP(&keysConf.ForceGeneration, forceKeyGenCmdFlag, "f", false, "forces key generation, overwriting existing keys. Must be used with -g flag")
	fullKeysFilePath := filepath.Join("$MCL_HOME", defaultKeysFileName)
	cmd.Flags().StringVarP(&keysConf.KeyFilePath, keyFileCmdFlag, "k", "", fmt.Sprintf("path to the keys file (default: %s). If key file does not exist and flag -g is present then new keys are generated.", fullKeysFilePath))
}

func (keysConf *keysConfig) GetKeyFileLocation() string {
	if keysConf.KeyFilePath != "" {
		return keysConf.KeyFilePath
	}
	return filepath.Join(*keysConf.HomeDir, defaultKeysFileName)
}

func (keysConf *keysConfig) load() (*Keys, error) {
	if keysConf.ForceGeneration && !keysConf.GenerateKeys {
		return nil, fmt.Errorf("flag --%s must be used with --%s", forceKeyGenCmdFlag, genKeysCmdFlag)
	}
	file := keysConf.GetKeyFileLocation()
	keys, err := LoadKeys(file, keysConf.GenerateKeys, keysConf.ForceGeneration)
	if err != nil {
		return nil, fmt.Errorf("failed to load keys %s: %w", file, err)
	}
	return keys, nil
}

// GenerateKeys generates a new signing key.
func GenerateKeys() (*Keys, error) {
	signer, err := crypto.NewInMemorySecp256K1Signer()
	if err != nil {
		return nil, err
	}
	return &Keys{Signer: signer}, nil
}

// LoadKeys loads the keys from the "file", new keys are generated (and saved) when
// file doesn't exist and "generateNewIfNotExist" is true or when "overwrite" is true.
func LoadKeys(file string, generateNewIfNotExist bool, overwrite bool) (*Keys, error) {
	exists := fileExists(file)

	if (exists && overwrite) || (!exists && generateNewIfNotExist) {
		// ensure intermediate dirs exist
		if err := os.MkdirAll(filepath.Dir(file), 0700); err != nil {
			return nil, err
		}
		keys, err := GenerateKeys()
		if err != nil {
			return nil, err
		}
		if err := keys.WriteTo(file); err != nil {
			return nil, err
		}
		return keys, nil
	}

	if !exists {
		return nil, fmt.Errorf("keys file %s not found", file)
	}

	data, err := os.ReadFile(filepath.Clean(file))
	if err != nil {
		return nil, err
	}
	kf := &keyFile{}
	if err := json.Unmarshal(data, kf); err != nil {
		return nil, fmt.Errorf("decoding keys file: %w", err)
	}
	if kf.SigningPrivateKey.Algorithm != secp256k1 {
		return nil, fmt.Errorf("signing key algorithm %v is not supported", kf.SigningPrivateKey.Algorithm)
	}

	signer, err := crypto.NewInMemorySecp256K1SignerFromKey(kf.SigningPrivateKey.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("invalid signing key: %w", err)
	}
	return &Keys{Signer: signer}, nil
}

func (k *Keys) WriteTo(file string) error {
	signingKeyBytes, err := k.Signer.MarshalPrivateKey()
	if err != nil {
		return err
	}
	kf := &keyFile{
		SigningPrivateKey: key{
			Algorithm:  secp256k1,
			PrivateKey: signingKeyBytes,
		},
	}
	data, err := json.MarshalIndent(kf, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(file, data, 0600)
}

func fileExists(file string) bool {
	_, err := os.Stat(file)
	return !errors.Is(err, os.ErrNotExist)
}
