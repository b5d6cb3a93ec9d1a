package aws

import (
	"context"
	"errors"
	"fmt"
	"iter"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/configservice"
	cstypes "github.com/aws/aws-sdk-go-v2/service/configservice/types"

	"github.com/yairfalse/snaptag/internal/compliance"
	"github.com/yairfalse/snaptag/internal/tagging"
)

// compliancePageSize is the largest page GetComplianceDetailsByConfigRule accepts.
const compliancePageSize = 100

// DescribeRule returns the raw input parameters of a Config rule.
func (c *Client) DescribeRule(ctx context.Context, ruleName string) (string, error) {
	output, err := c.configClient.DescribeConfigRules(ctx, &configservice.DescribeConfigRulesInput{
		ConfigRuleNames: []string{ruleName},
	})
	if err != nil {
		var noRule *cstypes.NoSuchConfigRuleException
		if errors.As(err, &noRule) {
			return "", tagging.ErrRuleNotFound
		}
		return "", err
	}
	if len(output.ConfigRules) == 0 {
		return "", tagging.ErrRuleNotFound
	}
	return aws.ToString(output.ConfigRules[0].InputParameters), nil
}

// NonCompliant pages through the rule's NON_COMPLIANT evaluation results.
// Pages are fetched lazily as the caller ranges over the sequence.
func (c *Client) NonCompliant(ctx context.Context, ruleName string) iter.Seq2[[]compliance.Result, error] {
	return func(yield func([]compliance.Result, error) bool) {
		paginator := configservice.NewGetComplianceDetailsByConfigRulePaginator(c.configClient,
			&configservice.GetComplianceDetailsByConfigRuleInput{
				ConfigRuleName:  aws.String(ruleName),
				ComplianceTypes: []cstypes.ComplianceType{cstypes.ComplianceTypeNonCompliant},
				Limit:           compliancePageSize,
			})

		for paginator.HasMorePages() {
			output, err := paginator.NextPage(ctx)
			if err != nil {
				yield(nil, fmt.Errorf("get compliance details for %s: %w", ruleName, err))
				return
			}
			if !yield(convertEvaluationResults(output.EvaluationResults), nil) {
				return
			}
		}
	}
}

func convertEvaluationResults(evaluations []cstypes.EvaluationResult) []compliance.Result {
	results := make([]compliance.Result, 0, len(evaluations))
	for _, e := range evaluations {
		if e.EvaluationResultIdentifier == nil || e.EvaluationResultIdentifier.EvaluationResultQualifier == nil {
			continue
		}
		q := e.EvaluationResultIdentifier.EvaluationResultQualifier
		results = append(results, compliance.Result{
			ResourceID:   aws.ToString(q.ResourceId),
			ResourceType: aws.ToString(q.ResourceType),
		})
	}
	return results
}
