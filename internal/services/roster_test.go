package services

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/trentd187/puckdrop/internal/models"
)

func TestRosterWorkbook(t *testing.T) {
	roster := &Roster{
		Light: []models.EventRegistration{{
			Position:      models.PositionGoalie,
			PaymentStatus: models.PaymentVerified,
			User: models.User{
				FirstName:  "Marc",
				LastName:   "Andre",
				SkillLevel: models.SkillAdvanced,
				Phone:      ptr("555-0101"),
			},
		}},
		Dark: []models.EventRegistration{{
			Position:      models.PositionForward,
			PaymentStatus: models.PaymentPending,
			User:          models.User{FirstName: "Sid", SkillLevel: models.SkillElite},
		}},
	}

	data, err := rosterWorkbook(roster)
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{"Light", "Dark", "Unassigned"}, f.GetSheetList())

	light, err := f.GetRows("Light")
	require.NoError(t, err)
	assert.Equal(t, [][]string{
		{"Name", "Position", "Skill", "Payment", "Phone"},
		{"Marc Andre", "goalie", "advanced", "verified", "555-0101"},
	}, light)

	dark, err := f.GetRows("Dark")
	require.NoError(t, err)
	require.Len(t, dark, 2)
	assert.Equal(t, []string{"Sid", "forward", "elite", "pending"}, dark[1])

	unassigned, err := f.GetRows("Unassigned")
	require.NoError(t, err)
	assert.Len(t, unassigned, 1, "just the header")
}

func TestPositionOrder(t *testing.T) {
	assert.Less(t, positionOrder(models.PositionGoalie), positionOrder(models.PositionDefense))
	assert.Less(t, positionOrder(models.PositionDefense), positionOrder(models.PositionForward))
}
