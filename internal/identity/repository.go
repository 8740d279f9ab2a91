package identity

import (
	"context"
	"errors"

	"support-desk-backend/internal/database"
	"support-desk-backend/internal/model"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

var ErrNotFound = errors.New("identity repository: not found")

type Repository interface {
	GetOperator(ctx context.Context, operatorID string) (model.OperatorItem, error)
}

type DynamoRepository struct {
	db *database.Database
}

func NewDynamoRepository(db *database.Database) Repository {
	return &DynamoRepository{db: db}
}

func (r *DynamoRepository) GetOperator(ctx context.Context, operatorID string) (model.OperatorItem, error) {
	var operator model.OperatorItem
	err := r.db.Client.GetItem(
		ctx,
		model.OperatorsTable,
		map[string]types.AttributeValue{
			"operatorId": &types.AttributeValueMemberS{Value: operatorID},
		},
		&operator,
	)
	if err != nil {
		if errors.Is(err, database.ErrItemNotFound) {
			return model.OperatorItem{}, ErrNotFound
		}
		return model.OperatorItem{}, err
	}
	return operator, nil
}
