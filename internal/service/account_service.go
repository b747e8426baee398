package service

import (
	"context"
	"fmt"

	"ledger-service/internal/logger"
	"ledger-service/internal/repository"
	"ledger-service/models"
)

type AccountService interface {
	CreateAccount(ctx context.Context, req *models.CreateAccountRequest) (*models.Account, error)
	GetAccount(ctx context.Context, id string) (*models.Account, error)
}

type accountService struct {
	store  repository.Store
	logger *logger.Logger
}

func NewAccountService(store repository.Store, log *logger.Logger) AccountService {
	return &accountService{
		store:  store,
		logger: log,
	}
}

func (s *accountService) CreateAccount(ctx context.Context, req *models.CreateAccountRequest) (*models.Account, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	account := &models.Account{
		Name:        req.Name,
		Description: req.Description,
		Balance:     models.NewMoney(0, req.Currency),
	}

	if err := s.store.Accounts().Create(ctx, account); err != nil {
		return nil, fmt.Errorf("failed to create account: %w", err)
	}

	s.logger.WithFields(map[string]interface{}{
		"account_id": account.ID,
		"currency":   account.Balance.Currency,
	}).Info("Account created")

	return account, nil
}

func (s *accountService) GetAccount(ctx context.Context, id string) (*models.Account, error) {
	account, err := s.store.Accounts().GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}

	return account, nil
}
