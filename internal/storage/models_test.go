package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTaskList_Pending(t *testing.T) {
	tasks := TaskList{
		{Title: "Dentist", IsCompleted: true},
		{Title: "Flight"},
		{Title: "Standup", IsCompleted: true},
		{Title: "Offsite"},
	}

	got := tasks.Pending()

	assert.Equal(t, []TaskItem{{Title: "Flight"}, {Title: "Offsite"}}, got)
}

func TestTaskList_PendingEmpty(t *testing.T) {
	assert.Empty(t, TaskList(nil).Pending())
	assert.Empty(t, TaskList{{Title: "Done", IsCompleted: true}}.Pending())
}
