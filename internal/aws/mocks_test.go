package aws

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/service/configservice"
	"github.com/aws/aws-sdk-go-v2/service/rds"
)

// mockRDSClient implements RDSAPI for testing.
type mockRDSClient struct {
	DescribeDBSnapshotsFunc func(ctx context.Context, params *rds.DescribeDBSnapshotsInput, optFns ...func(*rds.Options)) (*rds.DescribeDBSnapshotsOutput, error)
	DescribeDBInstancesFunc func(ctx context.Context, params *rds.DescribeDBInstancesInput, optFns ...func(*rds.Options)) (*rds.DescribeDBInstancesOutput, error)
	ListTagsFunc            func(ctx context.Context, params *rds.ListTagsForResourceInput, optFns ...func(*rds.Options)) (*rds.ListTagsForResourceOutput, error)
	AddTagsFunc             func(ctx context.Context, params *rds.AddTagsToResourceInput, optFns ...func(*rds.Options)) (*rds.AddTagsToResourceOutput, error)
}

func (m *mockRDSClient) DescribeDBSnapshots(ctx context.Context, params *rds.DescribeDBSnapshotsInput, optFns ...func(*rds.Options)) (*rds.DescribeDBSnapshotsOutput, error) {
	if m.DescribeDBSnapshotsFunc != nil {
		return m.DescribeDBSnapshotsFunc(ctx, params, optFns...)
	}
	return &rds.DescribeDBSnapshotsOutput{}, nil
}

func (m *mockRDSClient) DescribeDBInstances(ctx context.Context, params *rds.DescribeDBInstancesInput, optFns ...func(*rds.Options)) (*rds.DescribeDBInstancesOutput, error) {
	if m.DescribeDBInstancesFunc != nil {
		return m.DescribeDBInstancesFunc(ctx, params, optFns...)
	}
	return &rds.DescribeDBInstancesOutput{}, nil
}

func (m *mockRDSClient) ListTagsForResource(ctx context.Context, params *rds.ListTagsForResourceInput, optFns ...func(*rds.Options)) (*rds.ListTagsForResourceOutput, error) {
	if m.ListTagsFunc != nil {
		return m.ListTagsFunc(ctx, params, optFns...)
	}
	return &rds.ListTagsForResourceOutput{}, nil
}

func (m *mockRDSClient) AddTagsToResource(ctx context.Context, params *rds.AddTagsToResourceInput, optFns ...func(*rds.Options)) (*rds.AddTagsToResourceOutput, error) {
	if m.AddTagsFunc != nil {
		return m.AddTagsFunc(ctx, params, optFns...)
	}
	return &rds.AddTagsToResourceOutput{}, nil
}

// mockConfigClient implements ConfigServiceAPI for testing.
type mockConfigClient struct {
	DescribeConfigRulesFunc   func(ctx context.Context, params *configservice.DescribeConfigRulesInput, optFns ...func(*configservice.Options)) (*configservice.DescribeConfigRulesOutput, error)
	GetComplianceDetailsFunc  func(ctx context.Context, params *configservice.GetComplianceDetailsByConfigRuleInput, optFns ...func(*configservice.Options)) (*configservice.GetComplianceDetailsByConfigRuleOutput, error)
	getComplianceDetailsCalls int
}

func (m *mockConfigClient) DescribeConfigRules(ctx context.Context, params *configservice.DescribeConfigRulesInput, optFns ...func(*configservice.Options)) (*configservice.DescribeConfigRulesOutput, error) {
	if m.DescribeConfigRulesFunc != nil {
		return m.DescribeConfigRulesFunc(ctx, params, optFns...)
	}
	return &configservice.DescribeConfigRulesOutput{}, nil
}

func (m *mockConfigClient) GetComplianceDetailsByConfigRule(ctx context.Context, params *configservice.GetComplianceDetailsByConfigRuleInput, optFns ...func(*configservice.Options)) (*configservice.GetComplianceDetailsByConfigRuleOutput, error) {
	m.getComplianceDetailsCalls++
	if m.GetComplianceDetailsFunc != nil {
		return m.GetComplianceDetailsFunc(ctx, params, optFns...)
	}
	return &configservice.GetComplianceDetailsByConfigRuleOutput{}, nil
}
