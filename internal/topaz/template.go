package topaz

// manualPickTemplate is the manual-picking display configuration RELION's
// GUI reads. Only the diameter is substituted; the rest must stay exactly as
// the GUI wrote it.
const manualPickTemplate = `
# version 30001

data_job

_rlnJobType                             3
_rlnJobIsContinue                       0


# version 30001

data_joboptions_values

loop_
_rlnJobOptionVariable #1
_rlnJobOptionValue #2
    angpix         -1
 black_val          0
blue_value          0
color_label rlnParticleSelectZScore
  ctfscale          1
  diameter         %d
  do_color         No
  do_queue         No
do_startend        No
  fn_color         ""
     fn_in         ""
  highpass         -1
   lowpass         20
  micscale        0.2
min_dedicated       1
other_args         ""
      qsub       qsub
qsubscript /public/EM/RELION/relion/bin/relion_qsub.csh
 queuename    openmpi
 red_value          2
sigma_contrast      3
 white_val          0
`
