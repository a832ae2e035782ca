package fixtures

import (
	"github.com/nimasrn/points-ledger/internal/model"
	"github.com/shopspring/decimal"
)

var (
	Ada   = model.RegisterRequest{DisplayName: "Ada Lovelace", Contact: "+441234567890"}
	Grace = model.RegisterRequest{DisplayName: "Grace Hopper", Contact: "+12025550143"}

	InvalidRegisterRequests = []model.RegisterRequest{
		{},
		{DisplayName: "   "},
		{DisplayName: "ok", Contact: "+1234567890123456789012345678901234567890123456789012345678901234567890"},
	}
)

func Earn(txID, memberID string, points int64) model.SubmitRequest {
	return model.SubmitRequest{TransactionID: txID, MemberID: memberID, Kind: model.KindEarn, Points: points}
}

func Redeem(txID, memberID string, points int64) model.SubmitRequest {
	return model.SubmitRequest{TransactionID: txID, MemberID: memberID, Kind: model.KindRedeem, Points: points}
}

func Adjust(txID, memberID string, points int64, reason string) model.SubmitRequest {
	return model.SubmitRequest{TransactionID: txID, MemberID: memberID, Kind: model.KindAdjustment, Points: points, Reason: reason}
}

func Purchase(txID, memberID, amount string) model.PurchaseRequest {
	return model.PurchaseRequest{TransactionID: txID, MemberID: memberID, Amount: decimal.RequireFromString(amount)}
}
