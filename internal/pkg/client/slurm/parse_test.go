package slurm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const scontrolOutput = `NodeName=spdr05 Arch=x86_64 CoresPerSocket=26
   CPUAlloc=0 CPUTot=52 CPULoad=0.01
   AvailableFeatures=(null)
   Gres=gpu:a100:4
   NodeAddr=spdr05 NodeHostName=spdr05 Version=22.05.6
   RealMemory=384000 AllocMem=0 FreeMem=380112 Sockets=2 Boards=1
   State=IDLE+DRAIN ThreadsPerCore=1 TmpDisk=0 Weight=1
   Partitions=basic,gpu
   AllocTRES=

NodeName=spdr06 Arch=x86_64 CoresPerSocket=26
   CPUAlloc=40 CPUTot=52 CPULoad=38.92
   AvailableFeatures=(null)
   Gres=gpu:a100:4
   RealMemory=384000 AllocMem=256000 Sockets=2 Boards=1
   State=MIXED ThreadsPerCore=1 TmpDisk=0 Weight=1
   Partitions=basic,gpu
   AllocTRES=cpu=40,mem=250G,gres/gpu=2
`

func TestParseNodeDetail(t *testing.T) {
	records := parseNodeDetail(scontrolOutput)
	require.Len(t, records, 2)

	spdr05 := records[0]
	assert.Equal(t, "spdr05", spdr05.NodeName)
	assert.Equal(t, "idle+drain", spdr05.RawState)
	assert.Equal(t, []string{"basic", "gpu"}, spdr05.Partitions)
	assert.Equal(t, int64(52), spdr05.CPUsTotal)
	assert.Equal(t, int64(0), spdr05.CPUsAlloc)
	assert.Equal(t, int64(384000), spdr05.MemTotalMB)
	assert.Equal(t, int64(4), spdr05.GPUsTotal)
	assert.Equal(t, int64(0), spdr05.GPUsAlloc)

	spdr06 := records[1]
	assert.Equal(t, int64(40), spdr06.CPUsAlloc)
	assert.Equal(t, int64(256000), spdr06.MemAllocMB)
	assert.Equal(t, int64(2), spdr06.GPUsAlloc)
}

func TestParseSinfoDeduplicates(t *testing.T) {
	// sinfo -N repeats a node once per partition it belongs to
	out := "spdr01 idle\nspdr01 idle\nspdr02 drained*\nspdr03 mixed\n"
	states := parseSinfo(out)
	assert.Len(t, states, 3)
	assert.Equal(t, "idle", states["spdr01"])
	assert.Equal(t, "drained*", states["spdr02"])
}

func TestParseQueue(t *testing.T) {
	out := "123|gpu|train-llm|amartin|Resources|8|32G|gres/gpu:8|1|2026-08-29T10:15:00\n" +
		"124|basic|fluid-sim|bchen|Nodes required for job are DOWN, DRAINED or reserved|104|4000M|N/A|2|2026-08-29T11:00:00\n" +
		"garbage line\n"
	jobs, err := parseQueue(out)
	require.NoError(t, err)
	require.Len(t, jobs, 2)

	assert.Equal(t, "123", jobs[0].JobID)
	assert.Equal(t, "gpu", jobs[0].Partition)
	assert.Equal(t, "amartin", jobs[0].User)
	assert.Equal(t, int64(8), jobs[0].CPUs)
	assert.Equal(t, int64(32*1024), jobs[0].MemoryMB)
	assert.Equal(t, int64(8), jobs[0].GPUs)
	assert.Equal(t, int64(1), jobs[0].Nodes)
	assert.Equal(t, 2026, jobs[0].SubmittedAt.Year())

	assert.Equal(t, "Nodes required for job are DOWN, DRAINED or reserved", jobs[1].Reason)
	assert.Equal(t, int64(4000), jobs[1].MemoryMB)
	assert.Equal(t, int64(0), jobs[1].GPUs)
}

func TestParseMemoryMB(t *testing.T) {
	assert.Equal(t, int64(4000), parseMemoryMB("4000M"))
	assert.Equal(t, int64(2048), parseMemoryMB("2G"))
	assert.Equal(t, int64(500), parseMemoryMB("512000K"))
	assert.Equal(t, int64(1024*1024), parseMemoryMB("1T"))
	assert.Equal(t, int64(800), parseMemoryMB("800"))
	assert.Equal(t, int64(0), parseMemoryMB("N/A"))
	assert.Equal(t, int64(0), parseMemoryMB(""))
}

func TestExpandHostlist(t *testing.T) {
	nodes, err := ExpandHostlist("spdr[01-03,07]")
	require.NoError(t, err)
	assert.Equal(t, []string{"spdr01", "spdr02", "spdr03", "spdr07"}, nodes)

	nodes, err = ExpandHostlist("node51,node52")
	require.NoError(t, err)
	assert.Equal(t, []string{"node51", "node52"}, nodes)

	nodes, err = ExpandHostlist("spdr05")
	require.NoError(t, err)
	assert.Equal(t, []string{"spdr05"}, nodes)

	nodes, err = ExpandHostlist("(Priority)")
	require.NoError(t, err)
	assert.Empty(t, nodes)

	_, err = ExpandHostlist("spdr[9-1]")
	assert.Error(t, err)
}
