package paramstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
)

type parameterReader interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// Getter looks up a provider token or model name by parameter path.
// Implemented by Client, Cache and Static.
type Getter interface {
	GetParameter(ctx context.Context, name string) (string, error)
}

// Client fetches provider tokens and model names from SSM Parameter Store.
// SecureString values come back decrypted.
type Client struct {
	ssm parameterReader
}

func New(reader parameterReader) (*Client, error) {
	if reader == nil {
		return nil, errors.New("paramstore: ssm reader must not be nil")
	}
	return &Client{ssm: reader}, nil
}

// GetParameter returns the value stored at name. A parameter that exists but
// holds only whitespace is an error, since no provider can use it.
func (c *Client) GetParameter(ctx context.Context, name string) (string, error) {
	if c.ssm == nil {
		return "", errors.New("paramstore: client not initialized")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("paramstore: parameter name is required")
	}

	out, err := c.ssm.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", fmt.Errorf("paramstore: read %q: %w", name, err)
	}
	if out == nil || out.Parameter == nil || out.Parameter.Value == nil {
		return "", fmt.Errorf("paramstore: %q has no value", name)
	}
	value := *out.Parameter.Value
	if strings.TrimSpace(value) == "" {
		return "", fmt.Errorf("paramstore: %q is blank", name)
	}
	return value, nil
}
