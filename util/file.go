package util

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// SaveJson writes data as a single JSON document, creating parent directories as needed.
// The file is written to a temporary sibling first and renamed so a crash never leaves
// a truncated document behind.
func SaveJson(path string, data interface{}) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	bs, err := json.Marshal(data)
	if err != nil {
		return err
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, bs, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// ReadJson decodes the JSON document at path into out
func ReadJson(path string, out interface{}) error {
	bs, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(bs, out)
}

// AppendJsonLine marshals data and appends it as one line to the file at path
func AppendJsonLine(path string, data interface{}) error {
	if err := ensureDir(path); err != nil {
		return err
	}
	bs, err := json.Marshal(data)
	if err != nil {
		return err
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0644)
	if err != nil {
		return err
	}
	defer f.Close()

	bs = append(bs, '\n')
	_, err = f.Write(bs)
	return err
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return os.MkdirAll(dir, 0755)
	}
	return nil
}
