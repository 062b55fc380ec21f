package mainconfig

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appconfig "github.com/wolfman30/symptom-assessment-engine/internal/config"
)

func TestLocalResolver(t *testing.T) {
	r := localResolver("http://localhost:4566", "ap-northeast-1")

	ep, err := r.ResolveEndpoint(sqs.ServiceID, "ap-northeast-1")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:4566", ep.URL)
	assert.Equal(t, "ap-northeast-1", ep.SigningRegion)
	assert.False(t, ep.HostnameImmutable)

	ep, err = r.ResolveEndpoint(s3.ServiceID, "ap-northeast-1")
	require.NoError(t, err)
	assert.True(t, ep.HostnameImmutable)

	_, err = r.ResolveEndpoint("Kinesis", "ap-northeast-1")
	var notFound *aws.EndpointNotFoundError
	assert.ErrorAs(t, err, &notFound)
}

func TestLoadAWSConfigStaticCredentials(t *testing.T) {
	cfg := &appconfig.Config{
		AWSRegion:           "ap-northeast-1",
		AWSAccessKeyID:      " test ",
		AWSSecretAccessKey:  "secret",
		AWSEndpointOverride: "http://localhost:4566",
	}
	awsCfg, err := LoadAWSConfig(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, "ap-northeast-1", awsCfg.Region)
	require.NotNil(t, awsCfg.EndpointResolverWithOptions)

	creds, err := awsCfg.Credentials.Retrieve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "test", creds.AccessKeyID)
}
