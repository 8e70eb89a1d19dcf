package abi

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSummarizeCountsByFrameConventionAndReturn(t *testing.T) {
	sigs := map[uint32]Signature{
		0x100: {Start: 0x100, FrameType: FrameEBP, Convention: ConventionThiscall, Return: ReturnVoid, ParamCount: 2, StackFrameSize: 8},
		0x200: {Start: 0x200, FrameType: FrameFPOLeaf, Convention: ConventionCdecl, Return: ReturnInt, ParamCount: 0},
		0x300: {Start: 0x300, FrameType: FrameEBP, Convention: ConventionStdcall, Return: ReturnFloat, ParamCount: 1, StackFrameSize: 100},
	}
	stats := Summarize(sigs, nil)

	require.Equal(t, 3, stats.TotalAnalyzed)
	require.Equal(t, 2, stats.FrameType[string(FrameEBP)])
	require.Equal(t, 1, stats.FrameType[string(FrameFPOLeaf)])
	require.Equal(t, 1, stats.CallingConvention[string(ConventionThiscall)])
	require.Equal(t, 1, stats.ThiscallCount)
	require.Equal(t, 1, stats.StackSizeDistribution["1-16"])
	require.Equal(t, 1, stats.StackSizeDistribution["65-256"])
	require.Equal(t, 1, stats.EstimatedParams["0"])
	require.Equal(t, 1, stats.EstimatedParams["2"])
}

func TestSummarizeByCategoryRequiresMinimumFive(t *testing.T) {
	sigs := make(map[uint32]Signature)
	categories := make(map[uint32]string)
	for i := uint32(0); i < 4; i++ {
		sigs[0x1000+i] = Signature{Start: 0x1000 + i, FrameType: FrameEBP, Convention: ConventionCdecl, Return: ReturnVoid}
		categories[0x1000+i] = "rw_plcore"
	}
	stats := Summarize(sigs, categories)
	require.Empty(t, stats.ByCategory, "a category under 5 functions should not appear in the breakdown")

	sigs[0x2000] = Signature{Start: 0x2000, FrameType: FrameEBP, Convention: ConventionCdecl, Return: ReturnVoid}
	categories[0x2000] = "rw_plcore"
	stats = Summarize(sigs, categories)
	require.Contains(t, stats.ByCategory, "rw_plcore")
	require.Equal(t, 5, stats.ByCategory["rw_plcore"].Total)
}

func TestTopCategoriesOrdersByDescendingCount(t *testing.T) {
	stats := Statistics{
		ByCategory: map[string]CategoryStats{
			"crt":       {Total: 5},
			"rw_plcore": {Total: 12},
			"game_area": {Total: 8},
		},
	}
	require.Equal(t, []string{"rw_plcore", "game_area", "crt"}, stats.TopCategories())
}
