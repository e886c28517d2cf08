package warehouse

import (
	"context"
	"fmt"

	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/redshift"
)

// RedshiftCredentialSource acquires short-lived cluster credentials via
// the Redshift control-plane API's GetClusterCredentials, satisfying
// CredentialSource.
type RedshiftCredentialSource struct {
	client          *redshift.Client
	clusterID       string
	dbUser          string
	dbName          string
	durationSeconds int32
}

// NewRedshiftCredentialSource loads AWS config from the default chain
// and returns a ready-to-use credential source.
func NewRedshiftCredentialSource(ctx context.Context, region, clusterID, dbUser, dbName string) (*RedshiftCredentialSource, error) {
	cfg, err := awsConfig.LoadDefaultConfig(ctx, awsConfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &RedshiftCredentialSource{
		client:          redshift.NewFromConfig(cfg),
		clusterID:       clusterID,
		dbUser:          dbUser,
		dbName:          dbName,
		durationSeconds: 3600,
	}, nil
}

// GetClusterCredentials requests a one-hour-lived username/password pair
// for the configured cluster, database and worker user.
func (r *RedshiftCredentialSource) GetClusterCredentials(ctx context.Context) (string, string, error) {
	out, err := r.client.GetClusterCredentials(ctx, &redshift.GetClusterCredentialsInput{
		ClusterIdentifier: &r.clusterID,
		DbUser:            &r.dbUser,
		DbName:            &r.dbName,
		DurationSeconds:   &r.durationSeconds,
		AutoCreate:        boolPtr(false),
	})
	if err != nil {
		return "", "", fmt.Errorf("get cluster credentials: %w", err)
	}
	return derefStr(out.DbUser), derefStr(out.DbPassword), nil
}

func boolPtr(b bool) *bool { return &b }

func derefStr(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
