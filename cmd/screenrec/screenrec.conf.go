package main

const (
	defaultConfigFileContent = `
# screenrec configuration. Changes to the [record], [audio] and [mux] sections
# are picked up while running and apply to the next recording session.

[record]

# Directory where recordings are saved.
folder = {{ .Folder }}

# Frames per second (1-120).
fps = {{ .FPS }}

# Container of the saved recording: mp4, avi or mkv.
format = {{ .Format }}

# What to record: "fullscreen" records a display, "custom" records region.
mode = {{ .Mode }}

# Display recorded in fullscreen mode. 0 is the primary display, -1 records
# all displays. See "screenrec -listdisplays".
monitor = {{ .Monitor }}

# Region recorded in custom mode, as WIDTHxHEIGHT+LEFT+TOP.
# region = 1280x720+0+0

# Encoding of the raw video file: "mjpeg" (AVI) or "x264" (lossless MKV
# produced by ffmpeg, which falls back to mjpeg when ffmpeg is missing).
intermediate = {{ .Intermediate }}

# JPEG quality of mjpeg frames (1-100).
# jpegquality = 95

# Automatically stop recording after this long. Empty means no limit.
# maxduration = 1h

# Maximum time to wait for each component while stopping a session.
# stoptimeout = 5s

[audio]

# Whether to record the microphone.
enabled = {{ .AudioEnabled }}

# Capture device ID. Empty means the default device. See
# "screenrec -listdevices".
# device =

# samplerate = 44100
# channels = 1

# How much audio may be buffered while the writer is busy.
# queue = 10s

[mux]

# Path to the ffmpeg binary used to merge audio and video.
ffmpeg = {{ .FFmpeg }}

# Adjust the audio tempo so that audio and video have the same duration.
# syncstretch = true

[log]

# logfile contains log file name location
logfile = {{ .LogFile }}

# How many log files to keep. 0 means keep all log files.
maxlogfiles = 0

# how verbose to be. Subsystem levels may be set as "info,CAPT=debug".
debuglevel = info

# Interval to log stats of the active session. Empty disables the report.
# statsinterval = 30s

# Address to serve prometheus metrics on (for example 127.0.0.1:9190).
# listenprometheus =

# Address to run the go profiler on.
# profiler =

[ui]

# Copy the path of saved recordings to the clipboard.
# copypath = false

# Start recording as soon as screenrec starts.
# autostart = false
`
)
