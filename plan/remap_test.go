package plan_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/meigma/modlist/plan"
)

func TestRemapRoundTrip(t *testing.T) {
	t.Parallel()

	compileRoots := map[plan.Root]string{
		plan.RootInstall:  "/home/a/modlist",
		plan.RootDownload: "/home/a/modlist/downloads",
		plan.RootGame:     "/games/skyrim",
	}
	text := "[Settings]\n" +
		"download_directory=/home/a/modlist/downloads\n" +
		`gamePath=\GAMES\Skyrim` + "\n" +
		`profile=\\home\\a\\modlist\\profiles` + "\n"

	remapped, changed := plan.Remap(text, compileRoots)
	assert.True(t, changed)
	assert.Contains(t, remapped, plan.Placeholder(plan.RootDownload, "FORWARD"))
	assert.Contains(t, remapped, plan.Placeholder(plan.RootGame, "BACK"))
	assert.Contains(t, remapped, plan.Placeholder(plan.RootInstall, "DOUBLE_BACK"))
	assert.NotContains(t, remapped, "/home/a")

	installRoots := map[plan.Root]string{
		plan.RootInstall:  "/opt/ml",
		plan.RootDownload: "/opt/dl",
		plan.RootGame:     "/opt/game",
	}
	assert.Equal(t, "[Settings]\n"+
		"download_directory=/opt/dl\n"+
		`gamePath=\opt\game`+"\n"+
		`profile=\\opt\\ml\\profiles`+"\n",
		plan.Unmap(remapped, installRoots))
}

func TestRemapNoRoots(t *testing.T) {
	t.Parallel()

	out, changed := plan.Remap("nothing here", map[plan.Root]string{plan.RootGame: "/games/x"})
	assert.False(t, changed)
	assert.Equal(t, "nothing here", out)
}
