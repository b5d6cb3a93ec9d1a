package aws

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/configservice"
	cstypes "github.com/aws/aws-sdk-go-v2/service/configservice/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/snaptag/internal/compliance"
	"github.com/yairfalse/snaptag/internal/tagging"
)

func evaluation(resourceType, id string) cstypes.EvaluationResult {
	return cstypes.EvaluationResult{
		ComplianceType: cstypes.ComplianceTypeNonCompliant,
		EvaluationResultIdentifier: &cstypes.EvaluationResultIdentifier{
			EvaluationResultQualifier: &cstypes.EvaluationResultQualifier{
				ResourceId:   aws.String(id),
				ResourceType: aws.String(resourceType),
			},
		},
	}
}

func TestDescribeRule(t *testing.T) {
	mock := &mockConfigClient{
		DescribeConfigRulesFunc: func(ctx context.Context, params *configservice.DescribeConfigRulesInput, optFns ...func(*configservice.Options)) (*configservice.DescribeConfigRulesOutput, error) {
			assert.Equal(t, []string{"required-tags"}, params.ConfigRuleNames)
			return &configservice.DescribeConfigRulesOutput{ConfigRules: []cstypes.ConfigRule{{
				ConfigRuleName:  aws.String("required-tags"),
				InputParameters: aws.String(`{"tag1Key":"Team"}`),
			}}}, nil
		},
	}
	c := NewWithClients(&mockRDSClient{}, mock)

	blob, err := c.DescribeRule(context.Background(), "required-tags")
	require.NoError(t, err)
	assert.Equal(t, `{"tag1Key":"Team"}`, blob)
}

func TestDescribeRule_NotFound(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"no such rule", &cstypes.NoSuchConfigRuleException{Message: aws.String("nope")}},
		{"empty result", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mock := &mockConfigClient{
				DescribeConfigRulesFunc: func(ctx context.Context, params *configservice.DescribeConfigRulesInput, optFns ...func(*configservice.Options)) (*configservice.DescribeConfigRulesOutput, error) {
					if tt.err != nil {
						return nil, tt.err
					}
					return &configservice.DescribeConfigRulesOutput{}, nil
				},
			}
			c := NewWithClients(&mockRDSClient{}, mock)

			_, err := c.DescribeRule(context.Background(), "missing")
			assert.ErrorIs(t, err, tagging.ErrRuleNotFound)
		})
	}
}

func TestDescribeRule_FeedsResolveRequired(t *testing.T) {
	mock := &mockConfigClient{
		DescribeConfigRulesFunc: func(ctx context.Context, params *configservice.DescribeConfigRulesInput, optFns ...func(*configservice.Options)) (*configservice.DescribeConfigRulesOutput, error) {
			return &configservice.DescribeConfigRulesOutput{ConfigRules: []cstypes.ConfigRule{{
				InputParameters: aws.String(`{"tag1Key":"Team","tag1Value":"data","tag2Key":"Owner"}`),
			}}}, nil
		},
	}
	c := NewWithClients(&mockRDSClient{}, mock)

	required, err := tagging.ResolveRequired(context.Background(), c, "required-tags")
	require.NoError(t, err)
	assert.Equal(t, []string{"Owner", "Team"}, required.Keys())
}

func TestNonCompliant_Pages(t *testing.T) {
	mock := &mockConfigClient{}
	mock.GetComplianceDetailsFunc = func(ctx context.Context, params *configservice.GetComplianceDetailsByConfigRuleInput, optFns ...func(*configservice.Options)) (*configservice.GetComplianceDetailsByConfigRuleOutput, error) {
		assert.Equal(t, "required-tags", aws.ToString(params.ConfigRuleName))
		assert.Equal(t, []cstypes.ComplianceType{cstypes.ComplianceTypeNonCompliant}, params.ComplianceTypes)

		if params.NextToken == nil {
			return &configservice.GetComplianceDetailsByConfigRuleOutput{
				EvaluationResults: []cstypes.EvaluationResult{
					evaluation(compliance.ResourceTypeDBSnapshot, "snap-1"),
					evaluation("AWS::RDS::DBInstance", "db-1"),
				},
				NextToken: aws.String("page-2"),
			}, nil
		}
		return &configservice.GetComplianceDetailsByConfigRuleOutput{
			EvaluationResults: []cstypes.EvaluationResult{
				evaluation(compliance.ResourceTypeDBSnapshot, "snap-2"),
				{},
			},
		}, nil
	}
	c := NewWithClients(&mockRDSClient{}, mock)

	var pages [][]compliance.Result
	for page, err := range c.NonCompliant(context.Background(), "required-tags") {
		require.NoError(t, err)
		pages = append(pages, page)
	}

	require.Len(t, pages, 2)
	assert.Len(t, pages[0], 2)
	assert.Equal(t, []compliance.Result{{ResourceID: "snap-2", ResourceType: compliance.ResourceTypeDBSnapshot}}, pages[1])
	assert.Equal(t, 2, mock.getComplianceDetailsCalls)
}

func TestNonCompliant_ThroughSnapshotsFilter(t *testing.T) {
	mock := &mockConfigClient{
		GetComplianceDetailsFunc: func(ctx context.Context, params *configservice.GetComplianceDetailsByConfigRuleInput, optFns ...func(*configservice.Options)) (*configservice.GetComplianceDetailsByConfigRuleOutput, error) {
			return &configservice.GetComplianceDetailsByConfigRuleOutput{
				EvaluationResults: []cstypes.EvaluationResult{
					evaluation(compliance.ResourceTypeDBSnapshot, "snap-1"),
					evaluation("AWS::EC2::Volume", "vol-1"),
				},
			}, nil
		},
	}
	c := NewWithClients(&mockRDSClient{}, mock)

	var ids []string
	for page, err := range compliance.Snapshots(context.Background(), c, "required-tags") {
		require.NoError(t, err)
		ids = append(ids, page...)
	}
	assert.Equal(t, []string{"snap-1"}, ids)
}

func TestNonCompliant_Error(t *testing.T) {
	mock := &mockConfigClient{
		GetComplianceDetailsFunc: func(ctx context.Context, params *configservice.GetComplianceDetailsByConfigRuleInput, optFns ...func(*configservice.Options)) (*configservice.GetComplianceDetailsByConfigRuleOutput, error) {
			return nil, errors.New("throttled")
		},
	}
	c := NewWithClients(&mockRDSClient{}, mock)

	var errs []error
	for _, err := range c.NonCompliant(context.Background(), "required-tags") {
		errs = append(errs, err)
	}
	require.Len(t, errs, 1)
	assert.ErrorContains(t, errs[0], "throttled")
}

func TestNonCompliant_IsLazy(t *testing.T) {
	mock := &mockConfigClient{
		GetComplianceDetailsFunc: func(ctx context.Context, params *configservice.GetComplianceDetailsByConfigRuleInput, optFns ...func(*configservice.Options)) (*configservice.GetComplianceDetailsByConfigRuleOutput, error) {
			return &configservice.GetComplianceDetailsByConfigRuleOutput{
				EvaluationResults: []cstypes.EvaluationResult{evaluation(compliance.ResourceTypeDBSnapshot, "snap-1")},
				NextToken:         aws.String("more"),
			}, nil
		},
	}
	c := NewWithClients(&mockRDSClient{}, mock)

	seq := c.NonCompliant(context.Background(), "required-tags")
	assert.Equal(t, 0, mock.getComplianceDetailsCalls)

	for range seq {
		break
	}
	assert.Equal(t, 1, mock.getComplianceDetailsCalls)
}
