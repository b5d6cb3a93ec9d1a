package aws

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/rds"
	rdstypes "github.com/aws/aws-sdk-go-v2/service/rds/types"
	"github.com/aws/smithy-go"

	"github.com/yairfalse/snaptag/internal/tagging"
)

// Error codes RDS uses for absent resources.
const (
	codeDBInstanceNotFound = "DBInstanceNotFound"
	codeDBSnapshotNotFound = "DBSnapshotNotFound"
)

// DescribeSnapshot returns the snapshot's ARN and parent instance ID.
func (c *Client) DescribeSnapshot(ctx context.Context, snapshotID string) (tagging.Snapshot, error) {
	output, err := c.rdsClient.DescribeDBSnapshots(ctx, &rds.DescribeDBSnapshotsInput{
		DBSnapshotIdentifier: aws.String(snapshotID),
	})
	if err != nil {
		if isNotFound(err, codeDBSnapshotNotFound, new(rdstypes.DBSnapshotNotFoundFault)) {
			return tagging.Snapshot{}, fmt.Errorf("describe snapshot %s: %w", snapshotID, tagging.ErrSnapshotNotFound)
		}
		return tagging.Snapshot{}, fmt.Errorf("describe snapshot %s: %w", snapshotID, err)
	}
	if len(output.DBSnapshots) == 0 {
		return tagging.Snapshot{}, fmt.Errorf("describe snapshot %s: %w", snapshotID, tagging.ErrSnapshotNotFound)
	}

	snapshot := output.DBSnapshots[0]
	return tagging.Snapshot{
		ID:               snapshotID,
		ARN:              aws.ToString(snapshot.DBSnapshotArn),
		ParentInstanceID: aws.ToString(snapshot.DBInstanceIdentifier),
		Type:             aws.ToString(snapshot.SnapshotType),
	}, nil
}

// LookupInstance looks up a snapshot's parent instance. Only a definitive
// not-found answer from RDS is reported as missing; every other error is
// reported as failed so callers can tell absence from a broken lookup.
func (c *Client) LookupInstance(ctx context.Context, instanceID string) tagging.ParentLookup {
	if instanceID == "" {
		return tagging.Missing()
	}

	output, err := c.rdsClient.DescribeDBInstances(ctx, &rds.DescribeDBInstancesInput{
		DBInstanceIdentifier: aws.String(instanceID),
	})
	if err != nil {
		if isNotFound(err, codeDBInstanceNotFound, new(rdstypes.DBInstanceNotFoundFault)) {
			return tagging.Missing()
		}
		return tagging.Failed(fmt.Errorf("describe db instance %s: %w", instanceID, err))
	}
	if len(output.DBInstances) == 0 {
		return tagging.Missing()
	}

	instance := output.DBInstances[0]
	return tagging.Found(tagging.ParentInstance{
		ID:  aws.ToString(instance.DBInstanceIdentifier),
		ARN: aws.ToString(instance.DBInstanceArn),
	})
}

// ListTags returns the tags on an RDS resource.
func (c *Client) ListTags(ctx context.Context, arn string) (tagging.Tags, error) {
	output, err := c.rdsClient.ListTagsForResource(ctx, &rds.ListTagsForResourceInput{
		ResourceName: aws.String(arn),
	})
	if err != nil {
		return nil, fmt.Errorf("list tags for %s: %w", arn, err)
	}
	return convertRDSTags(output.TagList), nil
}

// AddTags appends tags to an RDS resource.
func (c *Client) AddTags(ctx context.Context, arn string, tags []tagging.Tag) error {
	if len(tags) == 0 {
		return nil
	}

	rdsTags := make([]rdstypes.Tag, len(tags))
	for i, t := range tags {
		rdsTags[i] = rdstypes.Tag{Key: aws.String(t.Key), Value: aws.String(t.Value)}
	}

	_, err := c.rdsClient.AddTagsToResource(ctx, &rds.AddTagsToResourceInput{
		ResourceName: aws.String(arn),
		Tags:         rdsTags,
	})
	if err != nil {
		return fmt.Errorf("add tags to %s: %w", arn, err)
	}
	return nil
}

// convertRDSTags converts RDS tags to a tag map
func convertRDSTags(list []rdstypes.Tag) tagging.Tags {
	tags := make(tagging.Tags, len(list))
	for _, tag := range list {
		if tag.Key == nil {
			continue
		}
		tags[aws.ToString(tag.Key)] = aws.ToString(tag.Value)
	}
	return tags
}

// isNotFound matches either the typed fault or its API error code.
func isNotFound[T error](err error, code string, target T) bool {
	if errors.As(err, &target) {
		return true
	}
	var apiErr smithy.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode() == code
}
