package crm

import (
	"context"
	"testing"

	"github.com/eshaffer321/crmreports-go/internal/routes"
	"github.com/eshaffer321/crmreports-go/internal/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestDashboardService_TopPerformers(t *testing.T) {
	mockTransport := new(MockTransport)
	client := newMockClient(mockTransport)

	expectTask(mockTransport, routes.Performer, "p-1", `{"data": [
		{"agent": {"id": 7, "name": "Dana", "email": "d@example.com", "target": 20, "target_mode": "count"},
		 "followUp": 9, "callBack": 4, "converted": 3}
	]}`)

	performers, err := client.Dashboard.TopPerformers(context.Background(), 0)

	require.NoError(t, err)
	require.Len(t, performers, 1)
	assert.Equal(t, "Dana", performers[0].Agent.Name)
	assert.Equal(t, "count", performers[0].Agent.TargetMode)
	assert.Equal(t, float64(20), performers[0].Agent.Target)
	assert.Equal(t, 3, performers[0].Converted)

	submit := mockTransport.Calls[0].Arguments.Get(1).(*transport.Request)
	assert.Equal(t, "5", submit.Query.Get("count"), "count defaults to 5")
}

func TestDashboardService_LatestStats(t *testing.T) {
	mockTransport := new(MockTransport)
	client := newMockClient(mockTransport)

	expectTask(mockTransport, routes.LatestStats, "s-1", `{"data": {
		"current": {"follow up": 30, "call back": "12", "no answer": 0},
		"prev":    {"follow up": 20, "call back": 12}
	}}`)

	stats, err := client.Dashboard.LatestStats(context.Background(), 3)

	require.NoError(t, err)
	assert.Equal(t, float64(30), stats.Value(StatFollowUp, false))
	assert.Equal(t, "12", stats.Display(StatCallBack, false))
	assert.Equal(t, "+50.00%", stats.PercentageChange(StatFollowUp))
	assert.Equal(t, "+0.00%", stats.PercentageChange(StatCallBack))
	assert.Equal(t, "0%", stats.PercentageChange(StatNoAnswer))

	submit := mockTransport.Calls[0].Arguments.Get(1).(*transport.Request)
	assert.Equal(t, "3", submit.Query.Get("count"))
}

func TestDashboardService_Charts(t *testing.T) {
	mockTransport := new(MockTransport)
	client := newMockClient(mockTransport)

	expectTask(mockTransport, routes.MonthlyStatus, "m-1", `{"data": [
		{"month": "January", "callBack": 10, "followUp": 10},
		{"month": "February", "callBack": 15, "followUp": 10}
	]}`)
	expectTask(mockTransport, routes.ChartAchieved, "a-1", `{"data": [
		{"date": "2024-04-01", "sales": 100, "retention": 40},
		{"date": "2024-04-02", "sales": 300, "retention": 20}
	]}`)
	expectTask(mockTransport, routes.ChartTargets, "t-1", `{"data": [
		{"userInfo": {"username": "dana", "userId": 7},
		 "chartData": [{"month": "April", "targets": 20, "achieved": 17}]}
	]}`)

	months, err := client.Dashboard.MonthlyStatus(context.Background())
	require.NoError(t, err)
	change, ok := MonthlyTrend(months, "February")
	require.True(t, ok)
	assert.Equal(t, 25.0, change)

	achieved, err := client.Dashboard.AchievedChart(context.Background())
	require.NoError(t, err)
	totals := AchievedTotals(achieved)
	assert.Equal(t, AchievedSummary{Sales: 400, Retention: 60, AverageSales: 200, AverageRetention: 30}, totals)

	targets, err := client.Dashboard.UserTargets(context.Background())
	require.NoError(t, err)
	require.Len(t, targets, 1)
	assert.Equal(t, ID("7"), targets[0].UserInfo.UserID)
	assert.Equal(t, float64(17), targets[0].ChartData[0].Achieved)

	mockTransport.AssertExpectations(t)
}

func TestDashboardService_RecentDeposits(t *testing.T) {
	mockTransport := new(MockTransport)
	client := newMockClient(mockTransport)

	mockTransport.On("Do", mock.Anything, onRoute(routes.RecentRunningBonus), mock.Anything).Return(`[
		{"id": 91, "agent": {"id": 7, "name": "Dana", "email": "d@example.com"}, "amount": 250, "dateAdded": "2024-04-02T10:15:00Z"}
	]`, nil).Once()

	deposits, err := client.Dashboard.RecentDeposits(context.Background())

	require.NoError(t, err)
	require.Len(t, deposits, 1)
	assert.Equal(t, ID("91"), deposits[0].ID)
	assert.Equal(t, 250.0, deposits[0].Amount)
	assert.Equal(t, "2024-04-02", deposits[0].DateAdded.String())
	mockTransport.AssertNotCalled(t, "Fetch", mock.Anything, mock.Anything)
}

func TestStatsSummary_PercentageChange(t *testing.T) {
	tests := []struct {
		name    string
		current interface{}
		prev    interface{}
		want    string
	}{
		{"both zero", float64(0), float64(0), "0%"},
		{"both missing", nil, nil, "0%"},
		{"previous zero", float64(5), float64(0), "+100%"},
		{"increase", float64(15), float64(10), "+50.00%"},
		{"decrease", float64(9), float64(10), "-10.00%"},
		{"numeric strings", "3", "4", "-25.00%"},
		{"negative previous", float64(-5), float64(-10), "+50.00%"},
		{"non-numeric", true, float64(4), "-100.00%"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &StatsSummary{
				Current: map[string]interface{}{"k": tt.current},
				Prev:    map[string]interface{}{"k": tt.prev},
			}
			assert.Equal(t, tt.want, s.PercentageChange("k"))
		})
	}

	var nilSummary *StatsSummary
	assert.Equal(t, "0%", nilSummary.PercentageChange("k"))
	assert.Equal(t, float64(0), nilSummary.Value("k", false))
	assert.Equal(t, "0", nilSummary.Display("k", true))
}

func TestMonthlyTrend(t *testing.T) {
	points := []*MonthlyPoint{
		{Month: "March", CallBack: 0, FollowUp: 0},
		{Month: "April", CallBack: 3, FollowUp: 1},
		{Month: "May", CallBack: 2, FollowUp: 1},
	}

	_, ok := MonthlyTrend(points, "March")
	assert.False(t, ok, "first month has no predecessor")

	_, ok = MonthlyTrend(points, "April")
	assert.False(t, ok, "previous month had no activity")

	change, ok := MonthlyTrend(points, "may")
	assert.True(t, ok)
	assert.Equal(t, -25.0, change)

	_, ok = MonthlyTrend(points, "June")
	assert.False(t, ok)
}

func TestAchievedTotals_Empty(t *testing.T) {
	assert.Equal(t, AchievedSummary{}, AchievedTotals(nil))
}
