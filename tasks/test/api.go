package test

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/l2-l1-causal-impact/bridge/lens"
	"github.com/l2-l1-causal-impact/bridge/model/blocks"
	"github.com/l2-l1-causal-impact/bridge/model/daily"
	"github.com/l2-l1-causal-impact/bridge/model/welfare"
	"github.com/l2-l1-causal-impact/bridge/provenance"
)

// MockAPI is a lens.API whose results are set with On.
type MockAPI struct {
	mock.Mock
}

var _ lens.API = (*MockAPI)(nil)

func (m *MockAPI) BlockRecords(ctx context.Context) (blocks.BlockRecordList, error) {
	args := m.Called(ctx)
	bl := args.Get(0)
	err := args.Error(1)
	if bl == nil {
		return nil, err
	}
	return bl.(blocks.BlockRecordList), err
}

func (m *MockAPI) PriceObservations(ctx context.Context) (blocks.PriceObservationList, error) {
	args := m.Called(ctx)
	prices := args.Get(0)
	err := args.Error(1)
	if prices == nil {
		return nil, err
	}
	return prices.(blocks.PriceObservationList), err
}

func (m *MockAPI) Posterior(ctx context.Context) (welfare.PosteriorList, error) {
	args := m.Called(ctx)
	post := args.Get(0)
	err := args.Error(1)
	if post == nil {
		return nil, err
	}
	return post.(welfare.PosteriorList), err
}

func (m *MockAPI) Dataset(ctx context.Context) (*provenance.Table, error) {
	args := m.Called(ctx)
	t := args.Get(0)
	err := args.Error(1)
	if t == nil {
		return nil, err
	}
	return t.(*provenance.Table), err
}

func (m *MockAPI) DailyAggregates(ctx context.Context) (daily.DailyAggregateList, error) {
	args := m.Called(ctx)
	aggs := args.Get(0)
	err := args.Error(1)
	if aggs == nil {
		return nil, err
	}
	return aggs.(daily.DailyAggregateList), err
}

func (m *MockAPI) WelfareBridge(ctx context.Context) (welfare.WelfareBridgeRowList, error) {
	args := m.Called(ctx)
	rows := args.Get(0)
	err := args.Error(1)
	if rows == nil {
		return nil, err
	}
	return rows.(welfare.WelfareBridgeRowList), err
}

func (m *MockAPI) Summary(ctx context.Context) (*welfare.Summary, error) {
	args := m.Called(ctx)
	s := args.Get(0)
	err := args.Error(1)
	if s == nil {
		return nil, err
	}
	return s.(*welfare.Summary), err
}

func (m *MockAPI) Manuscript(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}

func (m *MockAPI) TableHeaders(ctx context.Context) (map[string][]string, error) {
	args := m.Called(ctx)
	h := args.Get(0)
	err := args.Error(1)
	if h == nil {
		return nil, err
	}
	return h.(map[string][]string), err
}
