package config

import (
	"bufio"
	"bytes"
	"os"
	"strings"

	"github.com/joho/godotenv"

	pipelineerrors "github.com/sparkify/datalake/internal/errors"
	"github.com/sparkify/datalake/internal/storage"
)

// Credential keys expected in the credentials file.
const (
	KeyAccessKeyID     = "AWS_ACCESS_KEY_ID"
	KeySecretAccessKey = "AWS_SECRET_ACCESS_KEY"
)

// LoadCredentials reads the AWS key pair from a KEY=VALUE file. INI section
// headers such as [AWS] are ignored, so the classic dl.cfg layout parses.
// The process environment is never touched; the result is meant to be
// handed to the S3 connector.
func LoadCredentials(path string) (*storage.Credentials, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, pipelineerrors.NewConfigError(pipelineerrors.CodeMissingFile,
				"credentials file not found: "+path, err)
		}
		return nil, pipelineerrors.NewConfigError(pipelineerrors.CodeMissingFile,
			"failed to read credentials file: "+path, err)
	}

	values, err := godotenv.Unmarshal(normalizeCredentials(data))
	if err != nil {
		return nil, pipelineerrors.NewConfigError(pipelineerrors.CodeInvalidConfig,
			"failed to parse credentials file: "+path, err)
	}

	creds := &storage.Credentials{
		AccessKeyID:     values[KeyAccessKeyID],
		SecretAccessKey: values[KeySecretAccessKey],
	}
	for _, key := range []string{KeyAccessKeyID, KeySecretAccessKey} {
		if values[key] == "" {
			return nil, pipelineerrors.NewConfigError(pipelineerrors.CodeMissingKey,
				"credentials file "+path+" has no value for "+key, nil).
				WithDetails(map[string]interface{}{"key": key})
		}
	}

	return creds, nil
}

// normalizeCredentials drops section headers and spaces around '=' so the
// dotenv parser sees plain KEY=VALUE lines.
func normalizeCredentials(data []byte) string {
	var b strings.Builder
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			continue
		}
		if key, value, ok := strings.Cut(line, "="); ok && !strings.HasPrefix(line, "#") {
			line = strings.TrimSpace(key) + "=" + strings.TrimSpace(value)
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return b.String()
}
