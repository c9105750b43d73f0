package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"sprout-agent/internal/domain"
)

const (
	skPrefixBudget   = "BUDGET#"
	skPrefixCalendar = "CAL#"
	entityBudget     = "budget"
	entityCalendar   = "calendar_item"
	condNotExists    = "attribute_not_exists(PK) AND attribute_not_exists(SK)"
)

// dynamodbAPI is the minimal DynamoDB interface required by Client.
// Defined here for testability.
type dynamodbAPI interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, in *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
}

// Client stores budgets and calendar items in a single DynamoDB table keyed by
// user, so every read and write is scoped to its owner by construction.
type Client struct {
	api       dynamodbAPI
	tableName string
	now       func() time.Time
	newID     func() string
}

// New creates a new repository Client.
func New(api dynamodbAPI, tableName string) (*Client, error) {
	if api == nil {
		return nil, errors.New("repository: api must not be nil")
	}
	if strings.TrimSpace(tableName) == "" {
		return nil, errors.New("repository: table name must not be empty")
	}
	return &Client{
		api:       api,
		tableName: tableName,
		now:       time.Now,
		newID:     uuid.NewString,
	}, nil
}

// userPK returns the partition key holding all of a user's records.
func userPK(userID string) string {
	return "USER#" + userID
}

func budgetSK(budgetID string) string {
	return skPrefixBudget + budgetID
}

// calendarSK sorts calendar items by date within the user partition.
func calendarSK(date, itemID string) string {
	return skPrefixCalendar + date + "#" + itemID
}

// CreateBudget writes a new budget with zero spend.
func (c *Client) CreateBudget(ctx context.Context, userID string, in domain.BudgetInput) (domain.Budget, error) {
	if strings.TrimSpace(userID) == "" {
		return domain.Budget{}, errors.New("repository: CreateBudget: user id is required")
	}
	b := domain.Budget{
		ID:          c.newID(),
		UserID:      userID,
		Name:        strings.TrimSpace(in.Name),
		LimitAmount: in.LimitAmount,
		CreatedAt:   c.now().UTC(),
	}
	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(c.tableName),
		Item:                budgetItem(b),
		ConditionExpression: aws.String(condNotExists),
	})
	if err != nil {
		return domain.Budget{}, fmt.Errorf("repository: CreateBudget: %w", err)
	}
	return b, nil
}

// ListBudgets returns every budget owned by userID, oldest first.
func (c *Client) ListBudgets(ctx context.Context, userID string) ([]domain.Budget, error) {
	in := &dynamodb.QueryInput{
		TableName:              aws.String(c.tableName),
		KeyConditionExpression: aws.String("PK = :pk AND begins_with(SK, :prefix)"),
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":     &types.AttributeValueMemberS{Value: userPK(userID)},
			":prefix": &types.AttributeValueMemberS{Value: skPrefixBudget},
		},
		ConsistentRead: aws.Bool(true),
	}

	var budgets []domain.Budget
	for {
		out, err := c.api.Query(ctx, in)
		if err != nil {
			return nil, fmt.Errorf("repository: ListBudgets query: %w", err)
		}
		for _, item := range out.Items {
			b, err := itemToBudget(item)
			if err != nil {
				return nil, fmt.Errorf("repository: ListBudgets unmarshal: %w", err)
			}
			budgets = append(budgets, b)
		}
		if len(out.LastEvaluatedKey) == 0 {
			break
		}
		in.ExclusiveStartKey = out.LastEvaluatedKey
	}

	sort.SliceStable(budgets, func(i, j int) bool {
		return budgets[i].CreatedAt.Before(budgets[j].CreatedAt)
	})
	return budgets, nil
}

// DeleteBudget removes the budget and returns the deleted record. A nil
// budget with a nil error means the record was already gone, typically
// because a concurrent request deleted it first.
func (c *Client) DeleteBudget(ctx context.Context, budgetID, userID string) (*domain.Budget, error) {
	out, err := c.api.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(c.tableName),
		Key: map[string]types.AttributeValue{
			"PK": &types.AttributeValueMemberS{Value: userPK(userID)},
			"SK": &types.AttributeValueMemberS{Value: budgetSK(budgetID)},
		},
		ConditionExpression: aws.String("attribute_exists(PK) AND attribute_exists(SK)"),
		ReturnValues:        types.ReturnValueAllOld,
	})
	if err != nil {
		var ccf *types.ConditionalCheckFailedException
		if errors.As(err, &ccf) {
			return nil, nil
		}
		return nil, fmt.Errorf("repository: DeleteBudget: %w", err)
	}
	if out == nil || len(out.Attributes) == 0 {
		return nil, nil
	}
	b, err := itemToBudget(out.Attributes)
	if err != nil {
		return nil, fmt.Errorf("repository: DeleteBudget unmarshal: %w", err)
	}
	return &b, nil
}

// AddCalendarItem writes a new calendar entry for userID.
func (c *Client) AddCalendarItem(ctx context.Context, userID string, in domain.CalendarItemInput) (domain.CalendarItem, error) {
	if strings.TrimSpace(userID) == "" {
		return domain.CalendarItem{}, errors.New("repository: AddCalendarItem: user id is required")
	}
	item := domain.CalendarItem{
		ID:        c.newID(),
		UserID:    userID,
		Title:     strings.TrimSpace(in.Title),
		Date:      in.Date,
		Time:      in.Time,
		CreatedAt: c.now().UTC(),
	}
	_, err := c.api.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(c.tableName),
		Item:                calendarItem(item),
		ConditionExpression: aws.String(condNotExists),
	})
	if err != nil {
		return domain.CalendarItem{}, fmt.Errorf("repository: AddCalendarItem: %w", err)
	}
	return item, nil
}

func budgetItem(b domain.Budget) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":          &types.AttributeValueMemberS{Value: userPK(b.UserID)},
		"SK":          &types.AttributeValueMemberS{Value: budgetSK(b.ID)},
		"entity":      &types.AttributeValueMemberS{Value: entityBudget},
		"budgetId":    &types.AttributeValueMemberS{Value: b.ID},
		"userId":      &types.AttributeValueMemberS{Value: b.UserID},
		"name":        &types.AttributeValueMemberS{Value: b.Name},
		"limitAmount": &types.AttributeValueMemberN{Value: formatNumber(b.LimitAmount)},
		"totalSpent":  &types.AttributeValueMemberN{Value: formatNumber(b.TotalSpent)},
		"createdAt":   &types.AttributeValueMemberS{Value: b.CreatedAt.Format(time.RFC3339Nano)},
	}
}

func calendarItem(item domain.CalendarItem) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK":        &types.AttributeValueMemberS{Value: userPK(item.UserID)},
		"SK":        &types.AttributeValueMemberS{Value: calendarSK(item.Date, item.ID)},
		"entity":    &types.AttributeValueMemberS{Value: entityCalendar},
		"itemId":    &types.AttributeValueMemberS{Value: item.ID},
		"userId":    &types.AttributeValueMemberS{Value: item.UserID},
		"title":     &types.AttributeValueMemberS{Value: item.Title},
		"date":      &types.AttributeValueMemberS{Value: item.Date},
		"time":      &types.AttributeValueMemberS{Value: item.Time},
		"createdAt": &types.AttributeValueMemberS{Value: item.CreatedAt.Format(time.RFC3339Nano)},
	}
}

// itemToBudget converts a DynamoDB attribute map to a Budget.
func itemToBudget(item map[string]types.AttributeValue) (domain.Budget, error) {
	id, err := strAttr(item, "budgetId")
	if err != nil {
		return domain.Budget{}, err
	}
	userID, err := strAttr(item, "userId")
	if err != nil {
		return domain.Budget{}, err
	}
	name, err := strAttr(item, "name")
	if err != nil {
		return domain.Budget{}, err
	}
	limit, err := numAttr(item, "limitAmount")
	if err != nil {
		return domain.Budget{}, err
	}
	spent, err := numAttr(item, "totalSpent")
	if err != nil {
		spent = 0 // budgets without expenses may omit the attribute
	}
	var created time.Time
	if raw, err := strAttr(item, "createdAt"); err == nil {
		created, _ = time.Parse(time.RFC3339Nano, raw)
	}

	return domain.Budget{
		ID:          id,
		UserID:      userID,
		Name:        name,
		LimitAmount: limit,
		TotalSpent:  spent,
		CreatedAt:   created,
	}, nil
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func strAttr(item map[string]types.AttributeValue, key string) (string, error) {
	v, ok := item[key]
	if !ok {
		return "", fmt.Errorf("repository: missing attribute %q", key)
	}
	s, ok := v.(*types.AttributeValueMemberS)
	if !ok {
		return "", fmt.Errorf("repository: attribute %q is not a string", key)
	}
	return s.Value, nil
}

func numAttr(item map[string]types.AttributeValue, key string) (float64, error) {
	v, ok := item[key]
	if !ok {
		return 0, fmt.Errorf("repository: missing attribute %q", key)
	}
	n, ok := v.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("repository: attribute %q is not a number", key)
	}
	parsed, err := strconv.ParseFloat(n.Value, 64)
	if err != nil {
		return 0, fmt.Errorf("repository: parse attribute %q: %w", key, err)
	}
	return parsed, nil
}
