package state

import (
	"context"
	"strings"

	"github.com/vmihailenco/msgpack/v5"
)

const campaignKeyPrefix = "campaign:"

// CampaignRecord is the durable summary of one finished campaign.
// Decimal amounts are carried as strings so the encoding stays exact.
type CampaignRecord struct {
	ID         string `msgpack:"id"`
	ProductID  string `msgpack:"product_id"`
	Requested  string `msgpack:"requested"`
	Filled     string `msgpack:"filled"`
	Status     string `msgpack:"status"`
	Iterations int    `msgpack:"iterations"`
	UpdatedAt  int64  `msgpack:"updated_at_ms"`
}

func SaveCampaignRecord(ctx context.Context, store Store, record CampaignRecord) error {
	if store == nil || record.ID == "" {
		return nil
	}
	payload, err := msgpack.Marshal(record)
	if err != nil {
		return err
	}
	return store.Set(ctx, campaignKeyPrefix+record.ID, string(payload))
}

func LoadCampaignRecord(ctx context.Context, store Store, id string) (CampaignRecord, bool, error) {
	if store == nil {
		return CampaignRecord{}, false, nil
	}
	raw, ok, err := store.Get(ctx, campaignKeyPrefix+id)
	if err != nil || !ok {
		return CampaignRecord{}, false, err
	}
	var record CampaignRecord
	if err := msgpack.Unmarshal([]byte(raw), &record); err != nil {
		return CampaignRecord{}, false, err
	}
	return record, true, nil
}

// ListCampaignRecords returns every stored campaign summary.
func ListCampaignRecords(ctx context.Context, store Store) ([]CampaignRecord, error) {
	if store == nil {
		return nil, nil
	}
	keys, err := store.Keys(ctx, campaignKeyPrefix)
	if err != nil {
		return nil, err
	}
	records := make([]CampaignRecord, 0, len(keys))
	for _, key := range keys {
		id := strings.TrimPrefix(key, campaignKeyPrefix)
		record, ok, err := LoadCampaignRecord(ctx, store, id)
		if err != nil {
			return nil, err
		}
		if ok {
			records = append(records, record)
		}
	}
	return records, nil
}
