package config

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
)

// SecretNames are the variables deployments usually source from SSM via
// <NAME>_SSM_PARAM pointers.
var SecretNames = []string{
	"DATABASE_URL",
	"SENDGRID_API_KEY",
	"TWILIO_AUTH_TOKEN",
	"TELEGRAM_BOT_TOKEN",
	"SLACK_WEBHOOK_URL",
	"REDIS_PASSWORD",
}

const ssmOperationTimeout = 15 * time.Second

// ParamStoreAPI is the SSM surface ParamStore needs.
type ParamStoreAPI interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
	PutParameter(ctx context.Context, params *ssm.PutParameterInput, optFns ...func(*ssm.Options)) (*ssm.PutParameterOutput, error)
}

// ParamStore writes and checks the SecureString parameters for one
// environment under /<env>/queryguard/.
type ParamStore struct {
	client ParamStoreAPI
	env    string
}

// ErrParamExists is returned by Put when the parameter exists and overwrite
// was not requested.
var ErrParamExists = errors.New("parameter already exists")

// NewParamStore creates a ParamStore for env.
func NewParamStore(client ParamStoreAPI, env string) *ParamStore {
	return &ParamStore{client: client, env: env}
}

// NewParamStoreAPI builds the SSM client from the AWS section.
func NewParamStoreAPI(ctx context.Context, c AWSConfig) (ParamStoreAPI, error) {
	cfg, err := LoadAWS(ctx, c)
	if err != nil {
		return nil, err
	}
	return ssm.NewFromConfig(cfg), nil
}

// Path maps a variable name to its parameter path, e.g.
// TWILIO_AUTH_TOKEN -> /prod/queryguard/twilio_auth_token.
func (p *ParamStore) Path(name string) string {
	return fmt.Sprintf("/%s/queryguard/%s", p.env, strings.ToLower(name))
}

// PointerLine is the environment line that makes Load resolve name from SSM.
func (p *ParamStore) PointerLine(name string) string {
	return name + ssmParamSuffix + "=" + p.Path(name)
}

// Exists reports whether the parameter for name is present.
func (p *ParamStore) Exists(ctx context.Context, name string) (bool, error) {
	opCtx, cancel := context.WithTimeout(ctx, ssmOperationTimeout)
	defer cancel()

	_, err := p.client.GetParameter(opCtx, &ssm.GetParameterInput{
		Name:           aws.String(p.Path(name)),
		WithDecryption: aws.Bool(false),
	})
	if err != nil {
		var notFound *ssmtypes.ParameterNotFound
		if errors.As(err, &notFound) {
			return false, nil
		}
		return false, fmt.Errorf("checking SSM parameter %q: %w", p.Path(name), err)
	}
	return true, nil
}

// Put stores value as a SecureString.
func (p *ParamStore) Put(ctx context.Context, name, value string, overwrite bool) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("value for %s must not be empty", name)
	}
	opCtx, cancel := context.WithTimeout(ctx, ssmOperationTimeout)
	defer cancel()

	_, err := p.client.PutParameter(opCtx, &ssm.PutParameterInput{
		Name:      aws.String(p.Path(name)),
		Value:     aws.String(value),
		Type:      ssmtypes.ParameterTypeSecureString,
		Overwrite: aws.Bool(overwrite),
	})
	if err != nil {
		var exists *ssmtypes.ParameterAlreadyExists
		if errors.As(err, &exists) {
			return fmt.Errorf("%w: %s (use --overwrite to replace)", ErrParamExists, p.Path(name))
		}
		return fmt.Errorf("writing SSM parameter %q: %w", p.Path(name), err)
	}
	return nil
}
