package reconcile

import (
	"bytes"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/queue-status/backend/internal/models"
)

func sampleSources() Sources {
	return Sources{
		Tokens: []models.Token{
			{TokenID: "t1", ProfileName: "Asha", ProductName: "Pitch", ParticipantProductID: "pp1", CurrentStage: "Completed", TokenStatus: "Active"},
			{TokenID: "t2", ProfileName: "Ben", ProductName: "Demo", ParticipantProductID: "pp2", CurrentStage: "Pending", TokenStatus: "Active"},
			{TokenID: "t3", ProfileName: "Chen", ProductName: "Pitch", ParticipantProductID: "pp3", CurrentStage: "Completed", TokenStatus: "Inactive"},
			{TokenID: "t4", ProfileName: "Dara", ProductName: "Demo", CurrentStage: "Pending", TokenStatus: "Shifted"},
			{TokenID: "t5", ProfileName: "Eli", ProductName: "Pitch", ParticipantProductID: "pp5", CurrentStage: "Pending", TokenStatus: "Active"},
		},
		ParticipantProducts: []models.ParticipantProduct{
			{ID: "pp1", Status: "completed", Mode: "Integration Mode", EventParticipationID: "ep1"},
			{ID: "pp2", Status: "ongoing", Mode: "Event Mode", EventParticipationID: "ep2"},
			{ID: "pp3", Status: "completed", Mode: "Unknown", EventParticipationID: "ep3"},
			{ID: "pp5", Status: "initiated", Mode: "Event Mode"},
		},
		EventParticipations: []models.EventParticipationRequest{
			{ID: "ep1", Status: "approved"},
			{ID: "ep2", Status: "approved"},
			{ID: "ep3", Status: "approved"},
		},
	}
}

func TestComputeReport_Summary(t *testing.T) {
	r := ComputeReport("q1", sampleSources(), nil)

	require.Len(t, r.Records, 5)
	s := r.Summary
	assert.Equal(t, 5, s.Total)
	assert.Equal(t, 2, s.Valid)
	assert.Equal(t, 3, s.Failed)
	assert.Equal(t, s.Total, s.Valid+s.Failed)

	assert.Equal(t, 2, s.ByProductStatus["completed"])
	assert.Equal(t, 1, s.ByProductStatus["ongoing"])
	assert.Equal(t, 1, s.ByProductStatus["initiated"])
	assert.Equal(t, 0, s.ByProductStatus["cancelled"])
	assert.Equal(t, 1, s.ByProductStatus["-"])

	assert.Equal(t, 3, s.ByTokenStatus["active"])
	assert.Equal(t, 1, s.ByTokenStatus["inactive"])
	assert.Equal(t, 1, s.ByTokenStatus["shifted"])

	assert.Equal(t, 1, s.ByInvalidGroup[models.InvalidGroupNoPPID])
	assert.Equal(t, 1, s.ByInvalidGroup[models.InvalidGroupNoEventParticipation])
	assert.Equal(t, 1, s.ByInvalidGroup[models.InvalidGroupFlowMissing])

	failures := r.Failures()
	require.Len(t, failures, 3)
	assert.Equal(t, []string{"t3", "t4", "t5"}, []string{failures[0].TokenID, failures[1].TokenID, failures[2].TokenID})
}

func TestComputeReport_Deterministic(t *testing.T) {
	src := sampleSources()
	want := ComputeReport("q1", src, NewValidator())

	assert.Equal(t, want, ComputeReport("q1", src, NewValidator()), "separately built validator")
	assert.Equal(t, want, ComputeReport("q1", sampleSources(), nil), "fresh sources, default rules")
	assert.Equal(t, sampleSources(), src, "inputs are not mutated")
}

func TestComputeReport_EmptyQueue(t *testing.T) {
	r := ComputeReport("q1", Sources{}, nil)

	assert.Empty(t, r.Records)
	assert.Equal(t, 0, r.Summary.Total)
	assert.Equal(t, 0, r.Summary.ByProductStatus["completed"])
}

func TestFilter_Apply(t *testing.T) {
	r := ComputeReport("q1", sampleSources(), nil)

	tests := []struct {
		name   string
		filter Filter
		want   []string
	}{
		{"zero filter", Filter{}, []string{"t1", "t2", "t3", "t4", "t5"}},
		{"product name", Filter{ProductName: "Demo"}, []string{"t2", "t4"}},
		{"mode exact", Filter{IntegrationMode: "Event Mode"}, []string{"t2", "t5"}},
		{"mode is case sensitive", Filter{IntegrationMode: "event mode"}, []string{}},
		{"stage", Filter{TokenStage: "Completed"}, []string{"t1", "t3"}},
		{"kpi product status", Filter{KPI: &KPI{Kind: KPIProductStatus, Value: "completed"}}, []string{"t1", "t3"}},
		{"kpi token status", Filter{KPI: &KPI{Kind: KPITokenStatus, Value: "active"}}, []string{"t1", "t2", "t5"}},
		{"kpi valid", Filter{KPI: &KPI{Kind: KPIValidity, Value: "valid"}}, []string{"t1", "t2"}},
		{"kpi invalid", Filter{KPI: &KPI{Kind: KPIValidity, Value: "invalid"}}, []string{"t3", "t4", "t5"}},
		{"kpi no ppid", Filter{KPI: &KPI{Kind: KPIInvalidGroup, Value: "NO_PPID"}}, []string{"t4"}},
		{"search case insensitive", Filter{Search: "CHEN"}, []string{"t3"}},
		{"search reason text", Filter{Search: "mode is unknown"}, []string{"t3"}},
		{"search does not span fields", Filter{Search: "completed integration"}, []string{}},
		{"conjunction", Filter{ProductName: "Pitch", KPI: &KPI{Kind: KPIValidity, Value: "invalid"}}, []string{"t3", "t5"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.filter.Apply(r.Records)
			ids := make([]string, 0, len(got))
			for _, rec := range got {
				ids = append(ids, rec.TokenID)
			}
			assert.Equal(t, tt.want, ids)
		})
	}
}

func TestFilter_InvalidGroupSortsForTriage(t *testing.T) {
	records := []models.JoinedRecord{
		{Token: models.Token{TokenID: "a", ProductName: "Zeta"}, ValidationReason: "r2", InvalidGroup: models.InvalidGroupFlowMissing},
		{Token: models.Token{TokenID: "b", ProductName: ""}, ValidationReason: "r1", InvalidGroup: models.InvalidGroupFlowMissing},
		{Token: models.Token{TokenID: "c", ProductName: "Alpha"}, ValidationReason: "r2", InvalidGroup: models.InvalidGroupFlowMissing, EventParticipationStatus: "denied"},
		{Token: models.Token{TokenID: "d", ProductName: "Alpha"}, ValidationReason: "r2", InvalidGroup: models.InvalidGroupFlowMissing, EventParticipationStatus: "approved"},
		{Token: models.Token{TokenID: "e"}, ValidationPassed: true},
	}

	got := Filter{KPI: &KPI{Kind: KPIInvalidGroup, Value: string(models.InvalidGroupFlowMissing)}}.Apply(records)
	ids := []string{}
	for _, rec := range got {
		ids = append(ids, rec.TokenID)
	}
	assert.Equal(t, []string{"b", "d", "c", "a"}, ids)
}

func TestFilter_ToggleKPI(t *testing.T) {
	k := KPI{Kind: KPIProductStatus, Value: "completed"}

	f := Filter{}.ToggleKPI(k)
	require.NotNil(t, f.KPI)
	assert.Equal(t, k, *f.KPI)

	f = f.ToggleKPI(k)
	assert.Nil(t, f.KPI)

	f = f.ToggleKPI(k).ToggleKPI(KPI{Kind: KPIValidity, Value: "valid"})
	assert.Equal(t, KPIValidity, f.KPI.Kind)
}

func TestParseKPI(t *testing.T) {
	tests := []struct {
		in   string
		want *KPI
	}{
		{"", nil},
		{"valid", &KPI{KPIValidity, "valid"}},
		{"Invalid", &KPI{KPIValidity, "invalid"}},
		{"no_event_participation", &KPI{KPIInvalidGroup, "NO_EVENT_PARTICIPATION"}},
		{"shifted", &KPI{KPITokenStatus, "shifted"}},
		{"Completed", &KPI{KPIProductStatus, "completed"}},
		{"tokenStatus:Active", &KPI{KPITokenStatus, "active"}},
		{"invalidGroup:flow_missing", &KPI{KPIInvalidGroup, "FLOW_MISSING"}},
	}
	for _, tt := range tests {
		got, err := ParseKPI(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	for _, bad := range []string{"validity:maybe", "invalidGroup:nope", "color:red", "productStatus:"} {
		_, err := ParseKPI(bad)
		assert.Error(t, err, bad)
	}
}

func TestPaginate_ConcatenationReproducesInput(t *testing.T) {
	records := make([]models.JoinedRecord, 23)
	for i := range records {
		records[i].TokenID = fmt.Sprintf("t%02d", i)
	}

	for _, size := range []int{1, 5, 10, 23, 50} {
		first := Paginate(records, 1, size)
		var joined []models.JoinedRecord
		for p := 1; p <= first.TotalPages; p++ {
			joined = append(joined, Paginate(records, p, size).Items...)
		}
		assert.Equal(t, records, joined, "size %d", size)
		assert.Equal(t, (len(records)+size-1)/size, first.TotalPages)
	}
}

func TestPaginate_Clamps(t *testing.T) {
	records := make([]models.JoinedRecord, 12)

	p := Paginate(records, 9, 5)
	assert.Equal(t, 3, p.Number)
	assert.Len(t, p.Items, 2)

	p = Paginate(records, -4, 5)
	assert.Equal(t, 1, p.Number)
	assert.Len(t, p.Items, 5)

	p = Paginate(records, 1, 0)
	assert.Equal(t, DefaultPageSize, p.Size)

	p = Paginate(nil, 3, 5)
	assert.Equal(t, 1, p.Number)
	assert.Equal(t, 0, p.TotalPages)
	assert.Empty(t, p.Items)
}

func TestBuildOptions(t *testing.T) {
	r := ComputeReport("q1", sampleSources(), nil)

	opts := BuildOptions(r.Records)
	assert.Equal(t, []OptionCount{{"Demo", 2}, {"Pitch", 3}}, opts.ProductNames)
	assert.Equal(t, []OptionCount{{"Completed", 2}, {"Pending", 3}}, opts.TokenStages)
	assert.Equal(t, []OptionCount{{"Event Mode", 2}, {"Integration Mode", 1}, {"Unknown", 1}, {"null", 1}}, opts.IntegrationModes)
}

func TestReportView(t *testing.T) {
	r := ComputeReport("q1", sampleSources(), nil)

	v := r.View(ViewRequest{Filter: Filter{ProductName: "Pitch"}, Page: 2, PageSize: 2})
	assert.Equal(t, "q1", v.QueueID)
	assert.Equal(t, 5, v.Summary.Total)
	assert.Equal(t, 3, v.Page.TotalItems)
	assert.Equal(t, 2, v.Page.TotalPages)
	require.Len(t, v.Page.Items, 1)
	assert.Equal(t, "t5", v.Page.Items[0].TokenID)
	assert.Len(t, v.Options.ProductNames, 2, "options ignore the active filter")
}

func TestWriteCSV(t *testing.T) {
	r := ComputeReport("q1", sampleSources(), nil)

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, r.Records[:2]))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "Participant,Product,Status,Mode,Stage,Validation", lines[0])
	assert.Equal(t, "Asha,Pitch,completed,Integration Mode,Completed,Valid", lines[1])
	assert.Equal(t, "Ben,Demo,ongoing,Event Mode,Pending,Valid", lines[2])
}
