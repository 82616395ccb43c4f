package repository

import (
	"github.com/smallbiznis/drawline/internal/ledger/domain"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}
